package llm

import (
	"context"
	"iter"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/m4xw311/tandem/config"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
	"github.com/m4xw311/tandem/tools"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int // retries after the first attempt
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns two retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// PolicyFromConfig overlays the configured retry fields on the defaults.
func PolicyFromConfig(c config.Retry) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxRetries != nil {
		p.MaxRetries = *c.MaxRetries
	}
	if c.BaseDelay > 0 {
		p.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	if c.Multiplier > 0 {
		p.BackoffMultiplier = c.Multiplier
	}
	if c.Jitter != nil {
		p.Jitter = *c.Jitter
	}
	return p
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(float64(p.BaseDelay)*math.Pow(p.BackoffMultiplier, float64(attempt)), float64(p.MaxDelay))
	if p.Jitter {
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay)
}

// Retry executes fn with the policy. Only retryable errors are retried, and
// a longer server-provided Retry-After replaces the computed delay.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for attempt := 0; err != nil && attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}
		delay := policy.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		result, err = fn(ctx)
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RetryingClient decorates a Client with a RetryPolicy, request logging and
// provider metrics.
type RetryingClient struct {
	inner   Client
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// WithRetry wraps c. A nil logger uses slog.Default and a nil metrics value
// records nothing.
func WithRetry(c Client, policy RetryPolicy, logger *slog.Logger, metrics *telemetry.Metrics) *RetryingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{inner: c, policy: policy, logger: logger.With("provider", ProviderName(c)), metrics: metrics}
}

func (r *RetryingClient) Provider() string { return ProviderName(r.inner) }

// Unwrap returns the decorated client.
func (r *RetryingClient) Unwrap() Client { return r.inner }

func (r *RetryingClient) withHooks(ctx context.Context) RetryPolicy {
	p := r.policy
	user := p.OnRetry
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		r.logger.Warn("retrying provider request", "attempt", attempt, "delay", delay, "err", err)
		r.metrics.RecordRetry(ctx, r.Provider())
		if user != nil {
			user(err, attempt, delay)
		}
	}
	return p
}

func (r *RetryingClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	started := time.Now()
	resp, err := Retry(ctx, r.withHooks(ctx), func(ctx context.Context) (*Response, error) {
		return r.inner.Generate(ctx, history, ts)
	})
	r.metrics.RecordProvider(ctx, r.Provider(), started, err)
	if err != nil {
		r.logger.Debug("provider request failed", "err", err)
	}
	return resp, err
}

// Stream retries only the setup call. Once chunks flow, errors pass through
// unchanged since partial output has already been observed.
func (r *RetryingClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	started := time.Now()
	seq, err := Retry(ctx, r.withHooks(ctx), func(ctx context.Context) (iter.Seq2[StreamChunk, error], error) {
		return r.inner.Stream(ctx, history, ts)
	})
	if err != nil {
		r.metrics.RecordProvider(ctx, r.Provider(), started, err)
		return nil, err
	}
	return func(yield func(StreamChunk, error) bool) {
		var streamErr error
		defer func() { r.metrics.RecordProvider(ctx, r.Provider(), started, streamErr) }()
		for chunk, err := range seq {
			if err != nil {
				streamErr = err
			}
			if !yield(chunk, err) {
				return
			}
		}
	}, nil
}
