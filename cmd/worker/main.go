// Package main runs the analysis worker: it consumes task jobs from the
// queue, executes the pipeline, fails stale tasks and serves health and
// metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/ziwei-api/internal/api"
	"github.com/phrazzld/ziwei-api/internal/app"
	"github.com/phrazzld/ziwei-api/internal/chart"
	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
	"github.com/phrazzld/ziwei-api/internal/task"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	if n, err := a.RecoverJobs(ctx); err != nil {
		log.Warn("failed to recover in-flight jobs", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("recovered in-flight jobs", slog.Int("count", n))
	}

	executor := task.NewExecutor(task.ExecutorConfig{
		CallTimeout:    cfg.Analysis.LLMTimeout,
		MaxRetries:     cfg.Analysis.LLMMaxRetries,
		RetryBaseDelay: cfg.Analysis.LLMRetryBaseDelay,
	}, a.Metrics, log)

	runner := task.NewRunner(task.RunnerDeps{
		Tasks:     a.Tasks,
		Results:   a.Results,
		Charts:    chart.NewClient(cfg.Chart.BaseURL, cfg.Chart.Timeout, log),
		Providers: a.Providers,
		Executor:  executor,
		Emitter:   a.Emitter,
		Logger:    log,
	})

	pool := task.NewWorkerPool(a.Queue, runner, task.WorkerPoolConfig{
		WorkerCount:    cfg.Worker.Count,
		DefaultTimeout: cfg.Analysis.RequestTimeout,
	}, a.Metrics, log)

	reaper := task.NewReaper(a.Tasks, task.ReaperConfig{
		MaxIdle:  cfg.Analysis.RequestTimeout,
		Interval: cfg.Worker.StaleCheckInterval,
	}, a.Metrics, a.Emitter, log)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.OpsPort),
		Handler: api.NewOpsRouter(api.OpsConfig{
			Checks:  a.Checks,
			Metrics: a.Metrics.Handler(),
			Logger:  log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("ops server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
