package llm

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/m4xw311/tandem/errors"
)

// ProviderError carries the details shared by every normalized provider
// failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AuthenticationError means the credentials were missing or rejected. It
// is never retried and always reaches the caller of the agent.
type AuthenticationError struct{ ProviderError }

// RateLimitError means the provider throttled the request.
type RateLimitError struct {
	ProviderError
	// RetryAfter is the server-suggested wait, zero when absent.
	RetryAfter time.Duration
}

// ProviderUnavailableError covers 5xx responses, timeouts and connection
// failures.
type ProviderUnavailableError struct{ ProviderError }

// InvalidResponseError means the provider answered with something that
// could not be used, or rejected the request itself.
type InvalidResponseError struct{ ProviderError }

// IsRetryable reports whether err is worth retrying: only rate limits and
// unavailability are.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var un *ProviderUnavailableError
	return errors.As(err, &rl) || errors.As(err, &un)
}

// IsAuthentication reports whether err is an *AuthenticationError.
func IsAuthentication(err error) bool {
	var auth *AuthenticationError
	return errors.As(err, &auth)
}

// ErrorFromStatus maps an HTTP status to a normalized error.
func ErrorFromStatus(provider string, status int, message string, retryAfter time.Duration, cause error) error {
	pe := ProviderError{Provider: provider, StatusCode: status, Message: message, Cause: cause}
	switch {
	case status == 401 || status == 403:
		pe.Message = "authentication failed"
		return &AuthenticationError{pe}
	case status == 429:
		pe.Message = "rate limit exceeded"
		return &RateLimitError{ProviderError: pe, RetryAfter: retryAfter}
	case status == 408 || status >= 500:
		pe.Message = "API unavailable"
		return &ProviderUnavailableError{pe}
	default:
		return &InvalidResponseError{pe}
	}
}

// ErrorFromTransport classifies errors that carry no status, such as
// connection resets and deadlines.
func ErrorFromTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	pe := ProviderError{Provider: provider, Message: "API unavailable", Cause: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &ProviderUnavailableError{pe}
	}
	pe.Message = "request failed"
	return &ProviderUnavailableError{pe}
}

// MissingKeyError reports an absent API key as an authentication failure.
func MissingKeyError(provider, envVar string) error {
	return &AuthenticationError{ProviderError{
		Provider: provider,
		Message:  fmt.Sprintf("%s environment variable not set", envVar),
	}}
}

func invalidResponse(provider, message string, cause error) error {
	return &InvalidResponseError{ProviderError{Provider: provider, Message: message, Cause: cause}}
}

// ParseRetryAfter reads a Retry-After header value given in seconds or as
// an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
