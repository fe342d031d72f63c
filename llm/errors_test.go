package llm

import (
	"fmt"
	"testing"
	"time"

	"github.com/m4xw311/tandem/errors"
)

func TestErrorFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		auth      bool
	}{
		{401, false, true},
		{403, false, true},
		{429, true, false},
		{500, true, false},
		{503, true, false},
		{408, true, false},
		{400, false, false},
		{404, false, false},
	}
	for _, tt := range tests {
		err := ErrorFromStatus("test", tt.status, "x", 0, nil)
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: retryable = %v", tt.status, IsRetryable(err))
		}
		if IsAuthentication(err) != tt.auth {
			t.Errorf("status %d: auth = %v", tt.status, IsAuthentication(err))
		}
	}

	err := ErrorFromStatus("test", 429, "x", 3*time.Second, nil)
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 3*time.Second {
		t.Fatalf("rate limit retry-after not kept: %v", err)
	}
}

func TestWrappedKindsStillClassify(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", unavailable())
	if !IsRetryable(err) {
		t.Fatal("wrapped unavailable error should be retryable")
	}
	if !IsAuthentication(fmt.Errorf("x: %w", MissingKeyError("openai", "OPENAI_API_KEY"))) {
		t.Fatal("missing key should be an authentication error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ParseRetryAfter("2", now); got != 2*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	if got := ParseRetryAfter(now.Add(5*time.Second).Format(time.RFC1123), now); got != 5*time.Second {
		t.Errorf("date form = %v", got)
	}
	if got := ParseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage = %v", got)
	}
}
