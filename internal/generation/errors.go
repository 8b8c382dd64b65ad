package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// Common errors returned by the generation package
var (
	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is empty
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when the provider configuration is invalid
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrUnknownProvider is returned when a request names a provider that is not registered
	ErrUnknownProvider = errors.New("unknown provider")
)

// ClassifyStatus turns an HTTP status returned by a provider into a tagged
// error. A zero status means the request never got a response.
func ClassifyStatus(provider string, status int, cause error) *domain.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.LLMUnavailableError(fmt.Sprintf("%s rejected credentials", provider), false, cause)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.LLMTimeoutError(fmt.Sprintf("%s request timed out", provider), cause)
	case status == http.StatusTooManyRequests:
		return domain.RateLimitedError(fmt.Sprintf("%s rate limited", provider), cause)
	case status >= 500 || status == 0:
		return domain.LLMUnavailableError(fmt.Sprintf("%s unavailable", provider), true, cause)
	default:
		return domain.LLMUnavailableError(fmt.Sprintf("%s rejected request (status %d)", provider, status), false, cause)
	}
}

// ClassifyCallError handles failures that carry no HTTP status: deadline
// expiry becomes a timeout, configuration and content problems are final,
// everything else is treated as a transient transport failure.
func ClassifyCallError(provider string, err error) *domain.Error {
	if de, ok := domain.AsError(err); ok {
		return de
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.LLMTimeoutError(fmt.Sprintf("%s request timed out", provider), err)
	case errors.Is(err, context.Canceled):
		return domain.LLMUnavailableError(fmt.Sprintf("%s request cancelled", provider), false, err)
	case errors.Is(err, ErrInvalidConfig):
		return domain.LLMUnavailableError(fmt.Sprintf("%s is not configured", provider), false, err)
	case errors.Is(err, ErrContentBlocked):
		return domain.LLMUnavailableError(fmt.Sprintf("%s blocked the prompt", provider), false, err)
	case errors.Is(err, ErrInvalidResponse):
		return domain.LLMUnavailableError(fmt.Sprintf("%s returned an invalid response", provider), true, err)
	default:
		return ClassifyStatus(provider, 0, err)
	}
}
