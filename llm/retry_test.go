package llm

import (
	"context"
	"testing"
	"time"

	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
)

func unavailable() error {
	return &ProviderUnavailableError{ProviderError{Provider: "test", Message: "API unavailable"}}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = false
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	p.Jitter = true
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < time.Second || d >= 3*time.Second {
			t.Fatalf("jittered Delay(1) = %v, want within [1s, 3s)", d)
		}
	}
}

func TestRetryOnlyRetryable(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2}

	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"unavailable", unavailable(), 4},
		{"rate limit", &RateLimitError{ProviderError: ProviderError{Provider: "test"}}, 4},
		{"auth", &AuthenticationError{ProviderError{Provider: "test"}}, 1},
		{"invalid", &InvalidResponseError{ProviderError{Provider: "test"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			if err != tt.err {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2}
	calls := 0
	got, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", unavailable()
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 3 {
		t.Fatalf("got %q, %v after %d calls", got, err, calls)
	}
}

func TestRetryAfterWins(t *testing.T) {
	var seen time.Duration
	policy := RetryPolicy{
		MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2,
		OnRetry: func(err error, attempt int, delay time.Duration) { seen = delay },
	}
	calls := 0
	_, _ = Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RateLimitError{ProviderError: ProviderError{Provider: "test"}, RetryAfter: 20 * time.Millisecond}
		}
		return 1, nil
	})
	if seen != 20*time.Millisecond {
		t.Fatalf("delay = %v, want Retry-After of 20ms", seen)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{
		MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 2,
		OnRetry: func(error, int, time.Duration) { cancel() },
	}
	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) { return 0, unavailable() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryingClientStream(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2}
	inner := NewScriptedClient(Fail(unavailable()), Reply("hello"))
	c := WithRetry(inner, policy, telemetry.Discard(), nil)

	seq, err := c.Stream(context.Background(), []session.Message{session.UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	resp, err := Reassemble(seq, nil)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if resp.Message.Content != "hello" {
		t.Fatalf("content = %q", resp.Message.Content)
	}
	if n := len(inner.Calls()); n != 2 {
		t.Fatalf("provider calls = %d, want 2", n)
	}
}

func TestRetryingClientDoesNotRetryMidStream(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2}
	step := Reply("partial")
	step.StreamErr = unavailable()
	inner := NewScriptedClient(step, Reply("never"))
	c := WithRetry(inner, policy, telemetry.Discard(), nil)

	seq, err := c.Stream(context.Background(), []session.Message{session.UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := Reassemble(seq, nil); !IsRetryable(err) {
		t.Fatalf("expected mid-stream unavailable error, got %v", err)
	}
	if n := len(inner.Calls()); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
}
