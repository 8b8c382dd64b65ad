// Package main implements analysisctl, a command-line client for the
// analysis service. It talks to the same database and job queue as the
// worker and prints JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/phrazzld/ziwei-api/internal/analysis"
	"github.com/phrazzld/ziwei-api/internal/app"
	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
	"github.com/spf13/cobra"
)

// analyzer is the subset of analysis.Service the commands call.
type analyzer interface {
	Submit(ctx context.Context, req domain.BirthRequest) (*analysis.SubmissionResult, error)
	CheckCache(ctx context.Context, req domain.BirthRequest) (*analysis.CacheLookupResult, error)
	GetTask(ctx context.Context, taskID string) (*analysis.TaskView, error)
	CancelTask(ctx context.Context, taskID string) (*analysis.TaskView, error)
	RetryTask(ctx context.Context, taskID string) (*analysis.TaskView, error)
	GetResult(ctx context.Context, resultID int64) (*analysis.ResultView, error)
	GetResultItem(ctx context.Context, resultID int64, analysisType string) (*analysis.ResultItemView, error)
	History(ctx context.Context, page, pageSize int) (*analysis.HistoryPage, error)
	ExportMarkdown(ctx context.Context, resultID int64, scope string) (*analysis.MarkdownExport, error)
}

// connectFunc opens the service for one command invocation.
type connectFunc func(ctx context.Context) (analyzer, func(), error)

func main() {
	if err := newRootCmd(connect).Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(ctx context.Context) (analyzer, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return a.Service, a.Close, nil
}

func newRootCmd(open connectFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "analysisctl",
		Short:        "Submit and inspect ziwei chart analyses",
		SilenceUsage: true,
	}

	// withService runs fn against a connected service and prints its result.
	withService := func(fn func(ctx context.Context, svc analyzer, args []string) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := fn(ctx, svc, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}
	}

	root.AddCommand(
		newRequestCmd("submit", "Submit an analysis request", withService, func(ctx context.Context, svc analyzer, req domain.BirthRequest) (any, error) {
			return svc.Submit(ctx, req)
		}),
		newRequestCmd("cache", "Look up a cached result without submitting", withService, func(ctx context.Context, svc analyzer, req domain.BirthRequest) (any, error) {
			return svc.CheckCache(ctx, req)
		}),
		&cobra.Command{
			Use:   "status <task_id>",
			Short: "Show a task",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc analyzer, args []string) (any, error) {
				return svc.GetTask(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "cancel <task_id>",
			Short: "Cancel a queued or running task",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc analyzer, args []string) (any, error) {
				return svc.CancelTask(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "retry <task_id>",
			Short: "Retry a failed task",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc analyzer, args []string) (any, error) {
				return svc.RetryTask(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "result <result_id>",
			Short: "Show a complete result",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc analyzer, args []string) (any, error) {
				id, err := parseResultID(args[0])
				if err != nil {
					return nil, err
				}
				return svc.GetResult(ctx, id)
			}),
		},
		&cobra.Command{
			Use:   "item <result_id> <analysis_type>",
			Short: "Show one analysis of a result",
			Args:  cobra.ExactArgs(2),
			RunE: withService(func(ctx context.Context, svc analyzer, args []string) (any, error) {
				id, err := parseResultID(args[0])
				if err != nil {
					return nil, err
				}
				return svc.GetResultItem(ctx, id, args[1])
			}),
		},
		newHistoryCmd(withService),
		newExportCmd(open),
	)
	return root
}

type serviceRunner func(fn func(ctx context.Context, svc analyzer, args []string) (any, error)) func(*cobra.Command, []string) error

func newRequestCmd(
	use, short string,
	withService serviceRunner,
	call func(ctx context.Context, svc analyzer, req domain.BirthRequest) (any, error),
) *cobra.Command {
	var (
		req      domain.BirthRequest
		calendar string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc analyzer, _ []string) (any, error) {
			req.Calendar = domain.Calendar(calendar)
			return call(ctx, svc, req)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&req.Date, "date", "", "birth date, YYYY-MM-DD")
	f.IntVar(&req.Timezone, "timezone", 0, "birth hour slot, 0-12")
	f.StringVar(&req.Gender, "gender", "", "男 or 女")
	f.StringVar(&calendar, "calendar", string(domain.CalendarSolar), "solar or lunar")
	f.StringVar(&req.Provider, "provider", "", "LLM provider (default from config)")
	f.StringVar(&req.Model, "model", "", "LLM model (default from config)")
	f.StringVar(&req.PromptVersion, "prompt-version", "", "prompt version (default from config)")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("gender")
	return cmd
}

func newHistoryCmd(withService serviceRunner) *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List results, newest first",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc analyzer, _ []string) (any, error) {
			return svc.History(ctx, page, pageSize)
		}),
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, from 1")
	cmd.Flags().IntVar(&pageSize, "page-size", analysis.DefaultPageSize, "results per page, at most 100")
	return cmd
}

func newExportCmd(open connectFunc) *cobra.Command {
	var scope, dir string
	cmd := &cobra.Command{
		Use:   "export <result_id>",
		Short: "Write a result as a Markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseResultID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, closeFn, err := open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			export, err := svc.ExportMarkdown(ctx, id, scope)
			if err != nil {
				return err
			}
			if dir == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), export.Content)
				return err
			}
			path := filepath.Join(dir, export.Filename)
			if err := os.WriteFile(path, []byte(export.Content), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"filename": export.Filename, "path": path})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", analysis.ScopeFull, "full or a single analysis type")
	cmd.Flags().StringVar(&dir, "dir", "", "directory to write the report to; prints it when empty")
	return cmd
}

func parseResultID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError(domain.CodeInvalidRequest, fmt.Sprintf("invalid result id %q", raw), err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
