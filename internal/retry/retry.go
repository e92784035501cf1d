package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/photo-curator/internal/logging"
)

// Policy configures retries for one class of remote calls.
type Policy struct {
	MaxAttempts    int           // total attempts including the first
	InitialDelay   time.Duration // base delay before backoff is applied
	MaxDelay       time.Duration // cap for exponential backoff
	RateLimitDelay time.Duration // used when a rate limit carries no hint
	Timeout        time.Duration // wall-clock limit per attempt, 0 disables
	Factor         float64       // backoff multiplier
}

// DefaultPolicy returns the policy used for vision and embedding calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		RateLimitDelay: 60 * time.Second,
		Timeout:        60 * time.Second,
		Factor:         2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs operations under a Policy.
type Executor struct {
	policy Policy
	sleep  SleepFunc
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the wait between attempts. Used by tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor.
func New(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy: policy.normalized(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Run executes op with retries.
func (e *Executor) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type attemptResult[T any] struct {
	val T
	err error
}

// Do executes op with retries and returns its value.
func Do[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := e.logger
	if logger == nil {
		logger = logging.From(ctx)
	}

	delay := e.policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := runAttempt(ctx, e.policy.Timeout, op)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err

		cause, hint := Classify(err)
		if cause == CausePermanent {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		switch cause {
		case CauseRateLimited:
			if hint > 0 {
				delay = hint
			} else {
				delay = e.policy.RateLimitDelay
			}
		default:
			delay = min(time.Duration(float64(delay)*e.policy.Factor), e.policy.MaxDelay)
		}

		logger.Warn("retrying operation",
			"operation", name,
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"cause", cause.String(),
			"delay", delay,
			"error", err,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", name, e.policy.MaxAttempts, lastErr)
}

// runAttempt runs op once, racing it against the policy timeout. An op that
// ignores its context is abandoned when the timer fires.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		val, err := op(attemptCtx)
		done <- attemptResult[T]{val: val, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			return res.val, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, timeout, res.err)
		}
		return res.val, res.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}
