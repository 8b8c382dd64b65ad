package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Analysis AnalysisConfig `mapstructure:"analysis" validate:"required"`
	Chart    ChartConfig    `mapstructure:"chart"    validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	OpsPort         int           `mapstructure:"ops_port"         validate:"required,gt=0,lt=65536"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// QueueConfig selects and configures the job queue backend. Only brokers
// shared between processes are accepted: the CLI enqueues and a separate
// worker consumes.
type QueueConfig struct {
	Backend  string `mapstructure:"backend"   validate:"required,oneof=redis amqp"`
	Name     string `mapstructure:"name"      validate:"required"`
	RedisURL string `mapstructure:"redis_url" validate:"required_if=Backend redis,omitempty,url"`
	AMQPURL  string `mapstructure:"amqp_url"  validate:"required_if=Backend amqp,omitempty,url"`
}

// WorkerConfig controls the worker pool and stale task reaper.
type WorkerConfig struct {
	Count              int           `mapstructure:"count"                validate:"gt=0"`
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval" validate:"gt=0"`
}

// AnalysisConfig holds pipeline defaults and limits.
type AnalysisConfig struct {
	Provider          string        `mapstructure:"provider"             validate:"required"`
	Model             string        `mapstructure:"model"                validate:"required"`
	PromptVersion     string        `mapstructure:"prompt_version"       validate:"required"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"      validate:"gt=0"`
	LLMTimeout        time.Duration `mapstructure:"llm_timeout"          validate:"gt=0"`
	MaxTaskRetry      int           `mapstructure:"max_task_retry"       validate:"gte=0"`
	LLMMaxRetries     int           `mapstructure:"llm_max_retries"      validate:"gte=0"`
	LLMRetryBaseDelay time.Duration `mapstructure:"llm_retry_base_delay" validate:"gt=0"`
	PollAfterMs       int           `mapstructure:"poll_after_ms"        validate:"gt=0"`
}

// ChartConfig points at the external chart computation service.
type ChartConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"gt=0"`
}

// ProviderConfig holds the credentials and endpoint of one LLM provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Gemini   ProviderConfig `mapstructure:"gemini"`
	DeepSeek ProviderConfig `mapstructure:"deepseek"`
	Qwen     ProviderConfig `mapstructure:"qwen"`
	Aliyun   ProviderConfig `mapstructure:"aliyun"`
	Volcano  ProviderConfig `mapstructure:"volcano"`
	GLM      ProviderConfig `mapstructure:"glm"`
	OpenAI   ProviderConfig `mapstructure:"openai"`
}

// Providers returns the configured providers keyed by their request name.
func (c LLMConfig) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"gemini":   c.Gemini,
		"deepseek": c.DeepSeek,
		"qwen":     c.Qwen,
		"aliyun":   c.Aliyun,
		"volcano":  c.Volcano,
		"glm":      c.GLM,
		"openai":   c.OpenAI,
	}
}
