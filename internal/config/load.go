package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ZIWEI"

// legacyEnv maps config keys to the unprefixed variable names used by older
// deployments. Prefixed variables take precedence.
var legacyEnv = map[string]string{
	"database.url":             "DATABASE_URL",
	"queue.redis_url":          "REDIS_URL",
	"queue.name":               "ANALYSIS_QUEUE",
	"analysis.provider":        "LLM_PROVIDER",
	"analysis.model":           "LLM_MODEL",
	"analysis.prompt_version":  "PROMPT_VERSION",
	"analysis.max_task_retry":  "MAX_TASK_RETRY",
	"analysis.llm_max_retries": "LLM_MAX_RETRIES",
	"llm.gemini.api_key":       "GEMINI_API_KEY",
	"llm.deepseek.api_key":     "DEEPSEEK_API_KEY",
	"llm.deepseek.base_url":    "DEEPSEEK_BASE_URL",
	"llm.qwen.api_key":         "QWEN_API_KEY",
	"llm.qwen.base_url":        "QWEN_BASE_URL",
	"llm.aliyun.api_key":       "ALIYUN_API_KEY",
	"llm.aliyun.base_url":      "ALIYUN_BASE_URL",
	"llm.volcano.api_key":      "ARK_API_KEY",
	"llm.volcano.model":        "ARK_API_MODEL",
	"llm.glm.api_key":          "ZHIPU_API_KEY",
	"llm.openai.api_key":       "OPENAI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.ops_port", 9090)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.name", "analysis")
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.amqp_url", "")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.stale_check_interval", time.Minute)

	v.SetDefault("analysis.provider", "mock")
	v.SetDefault("analysis.model", "mock-v1")
	v.SetDefault("analysis.prompt_version", "v1")
	v.SetDefault("analysis.request_timeout", 1800*time.Second)
	v.SetDefault("analysis.llm_timeout", 120*time.Second)
	v.SetDefault("analysis.max_task_retry", 2)
	v.SetDefault("analysis.llm_max_retries", 2)
	v.SetDefault("analysis.llm_retry_base_delay", time.Second)
	v.SetDefault("analysis.poll_after_ms", 2000)

	v.SetDefault("chart.base_url", "http://localhost:3000")
	v.SetDefault("chart.timeout", 30*time.Second)

	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.deepseek.model", "deepseek-chat")
	v.SetDefault("llm.qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.qwen.model", "qwen-max-latest")
	v.SetDefault("llm.aliyun.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.aliyun.model", "deepseek-r1")
	v.SetDefault("llm.volcano.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("llm.glm.base_url", "https://open.bigmodel.cn/api/paas/v4")
	v.SetDefault("llm.glm.model", "glm-4-plus")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	for _, p := range []string{"gemini", "deepseek", "qwen", "aliyun", "volcano", "glm", "openai"} {
		v.SetDefault("llm."+p+".api_key", "")
	}
	v.SetDefault("llm.gemini.base_url", "")
	v.SetDefault("llm.volcano.model", "")
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ziwei")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
