package domain

import (
	"context"
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a task state change is not
	// permitted from the task's current status.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrRetryBudgetExhausted is returned when a failed task has already
	// been retried the maximum number of times.
	ErrRetryBudgetExhausted = errors.New("max retry reached")

	// ErrProgressRegression is returned when a progress update would lower
	// the recorded progress of a running task.
	ErrProgressRegression = errors.New("progress cannot decrease")

	// ErrIncompleteResult is returned when a result is missing one of the
	// required analysis items.
	ErrIncompleteResult = errors.New("result is missing analysis items")
)

// ErrorKind classifies an Error for callers that need to branch on it.
type ErrorKind string

// Error kinds.
const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInternal            ErrorKind = "internal"
)

// Error codes recorded on failed tasks and returned to callers.
const (
	CodeInvalidRequest   = "A1001"
	CodeUnsupported      = "A1002"
	CodeChartUnavailable = "A2001"
	CodeLLMTimeout       = "A3001"
	CodeLLMUnavailable   = "A3002"
	CodeNotFound         = "A4004"
	CodeConflict         = "A4009"
	CodeRateLimited      = "A4290"
	CodeInternal         = "A5000"
)

var retryableCodes = map[string]bool{
	CodeChartUnavailable: true,
	CodeLLMTimeout:       true,
	CodeLLMUnavailable:   true,
	CodeRateLimited:      true,
}

// IsRetryableCode reports the default retryability of a code. Constructors
// may override it; an A3002 for a missing key is not retryable.
func IsRetryableCode(code string) bool {
	return retryableCodes[code]
}

// Error is the tagged error value passed across layer boundaries. Retryability
// is carried as data so callers never need to inspect concrete error types.
type Error struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error. Retryable defaults to the code's classification.
func NewError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
		Err:       cause,
	}
}

// NotFoundError reports an unknown task or result.
func NotFoundError(message string) *Error {
	return NewError(KindNotFound, CodeNotFound, message, nil)
}

// ConflictError reports a precondition violation on cancel or retry.
func ConflictError(message string, cause error) *Error {
	return NewError(KindConflict, CodeConflict, message, cause)
}

// ValidationError reports malformed input.
func ValidationError(code, message string, cause error) *Error {
	return NewError(KindValidation, code, message, cause)
}

// ChartUnavailableError reports a failed chart provider call.
func ChartUnavailableError(cause error) *Error {
	return NewError(KindUpstreamUnavailable, CodeChartUnavailable, "chart service unavailable", cause)
}

// LLMTimeoutError reports a provider call that exceeded its deadline.
func LLMTimeoutError(message string, cause error) *Error {
	return NewError(KindTimeout, CodeLLMTimeout, message, cause)
}

// LLMUnavailableError reports a provider failure. Auth and configuration
// problems pass retryable=false.
func LLMUnavailableError(message string, retryable bool, cause error) *Error {
	e := NewError(KindUpstreamUnavailable, CodeLLMUnavailable, message, cause)
	e.Retryable = retryable
	return e
}

// RateLimitedError reports a provider throttling response.
func RateLimitedError(message string, cause error) *Error {
	return NewError(KindRateLimited, CodeRateLimited, message, cause)
}

// InternalError wraps an unclassified failure.
func InternalError(message string, cause error) *Error {
	return NewError(KindInternal, CodeInternal, message, cause)
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	de, ok := AsError(err)
	return ok && de.Kind == kind
}

// Classify converts any error into an *Error. Deadline errors become
// timeouts; anything else unrecognized is internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if de, ok := AsError(err); ok {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return LLMTimeoutError("operation timed out", err)
	}
	return InternalError("internal error", err)
}
