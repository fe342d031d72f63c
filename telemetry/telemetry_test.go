package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelWarn,
		"":        slog.LevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "tool", "calculator")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "tool=calculator") {
		t.Errorf("missing structured attribute: %q", out)
	}
}

func TestMetricsRecordWithNoopProvider(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordProvider(ctx, "openai", time.Now(), nil)
	m.RecordProvider(ctx, "openai", time.Now(), errors.New("boom"))
	m.RecordRetry(ctx, "openai")
	m.RecordTool(ctx, "calculator", "ok")
	m.RecordPause(ctx, "interrupt")
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)

	var nilMetrics *Metrics
	nilMetrics.RecordTool(ctx, "calculator", "ok")
}
