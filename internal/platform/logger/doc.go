// Package logger configures the process-wide slog JSON logger and carries
// request-scoped loggers on a context.
package logger
