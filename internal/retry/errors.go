package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized marks authentication failures. Never retried.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks conflicting writes. Never retried.
	ErrConflict = errors.New("conflict")
	// ErrAttemptTimeout is returned when a single attempt exceeds the policy timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")
)

// RateLimitError signals that the remote service throttled the call.
// RetryAfter is the server-provided hint, zero when absent.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// RateLimited wraps err as a RateLimitError.
func RateLimited(err error, retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter, Err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Cause is the classification of a failed attempt.
type Cause int

const (
	CauseTransient Cause = iota
	CauseRateLimited
	CauseTimeout
	CausePermanent
)

func (c Cause) String() string {
	switch c {
	case CauseRateLimited:
		return "rate_limited"
	case CauseTimeout:
		return "timeout"
	case CausePermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Classify determines how a failed attempt is handled. For rate limits the
// second return value is the server hint (zero when absent).
func Classify(err error) (Cause, time.Duration) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return CauseRateLimited, rl.RetryAfter
	}

	var perm *permanentError
	if errors.As(err, &perm) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrConflict) {
		return CausePermanent, 0
	}

	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, errTimeoutStatus) || errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout, 0
	}

	return CauseTransient, 0
}

var errTimeoutStatus = errors.New("gateway timeout")

// HTTPStatusError maps a non-success HTTP response to a classified error.
func HTTPStatusError(status int, retryAfter string, body string) error {
	base := fmt.Errorf("request failed with status %d: %s", status, strings.TrimSpace(body))

	switch status {
	case http.StatusTooManyRequests:
		return RateLimited(base, ParseRetryAfter(retryAfter))
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, base)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, base)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", errTimeoutStatus, base)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return Permanent(base)
	default:
		return base
	}
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
