// Package app wires the process-wide dependencies shared by the worker and
// the CLI: database, stores, job queue, metrics, events and the analysis
// service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/ziwei-api/internal/analysis"
	"github.com/phrazzld/ziwei-api/internal/api"
	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/phrazzld/ziwei-api/internal/metrics"
	"github.com/phrazzld/ziwei-api/internal/platform/llm"
	"github.com/phrazzld/ziwei-api/internal/platform/postgres"
	"github.com/phrazzld/ziwei-api/internal/platform/rabbitmq"
	"github.com/phrazzld/ziwei-api/internal/platform/redisqueue"
	"github.com/phrazzld/ziwei-api/internal/queue"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// JobQueue is a queue backend that both publishes and consumes jobs.
type JobQueue interface {
	queue.Enqueuer
	queue.Consumer
}

// Options tune what New sets up.
type Options struct {
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

// App holds the shared dependencies. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Tasks     store.TaskStore
	Results   store.ResultStore
	Queue     JobQueue
	Providers *llm.Registry
	Metrics   *metrics.Metrics
	Emitter   *events.InMemoryEventEmitter
	Service   *analysis.Service
	// Checks are the readiness probes for the ops server.
	Checks map[string]api.Check

	closers []io.Closer
}

// New connects to every backend named in cfg and builds the service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Checks: make(map[string]api.Check),
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db)
	a.Checks["database"] = db.PingContext

	if opts.Migrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Tasks = postgres.NewPostgresTaskStore(db, logger)
	a.Results = postgres.NewPostgresResultStore(db, logger)

	if err := a.openQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Providers = llm.NewRegistry(cfg.LLM, logger)
	a.Metrics = metrics.New()
	a.Emitter = events.NewInMemoryEventEmitter(logger)
	a.Emitter.RegisterHandler(a.Metrics)

	a.Service, err = analysis.NewService(a.Tasks, a.Results, a.Queue, a.Emitter, ServiceConfig(cfg, a.Providers.DefaultModels()), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create analysis service: %w", err)
	}

	logger.Info("application initialized",
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("queue", cfg.Queue.Name),
		slog.String("default_provider", cfg.Analysis.Provider))
	return a, nil
}

// ServiceConfig derives the dispatcher settings from cfg.
func ServiceConfig(cfg *config.Config, providerModels map[string]string) analysis.Config {
	return analysis.Config{
		Defaults: domain.Defaults{
			Provider:       cfg.Analysis.Provider,
			Model:          cfg.Analysis.Model,
			PromptVersion:  cfg.Analysis.PromptVersion,
			ProviderModels: providerModels,
		},
		MaxTaskRetry: cfg.Analysis.MaxTaskRetry,
		JobTimeout:   cfg.Analysis.RequestTimeout,
		PollAfterMs:  cfg.Analysis.PollAfterMs,
	}
}

func (a *App) openQueue(ctx context.Context) error {
	cfg := a.Config.Queue
	switch cfg.Backend {
	case "redis":
		client, err := redisqueue.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client)
		q := redisqueue.New(client, cfg.Name, a.Logger)
		a.Queue = q
		a.Checks["queue"] = q.Ping
	case "amqp":
		conn, err := rabbitmq.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn)
		q, err := rabbitmq.New(conn, cfg.Name, a.Config.Worker.Count, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, q)
		a.Queue = q
		a.Checks["queue"] = q.Ping
	default:
		return fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
	return nil
}

// RecoverJobs returns jobs left in flight by a previous worker to the queue.
// Only the Redis backend tracks in-flight jobs itself.
func (a *App) RecoverJobs(ctx context.Context) (int, error) {
	q, ok := a.Queue.(*redisqueue.Queue)
	if !ok {
		return 0, nil
	}
	return q.Recover(ctx)
}

// Close releases every backend connection.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Error("failed to close resources", slog.String("error", err.Error()))
	}
}
