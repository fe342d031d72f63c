package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/m4xw311/tandem"

// Metrics holds the instruments recorded by the runtime. All fields are
// safe for concurrent use.
type Metrics struct {
	// ProviderRequests counts model calls by provider and status.
	ProviderRequests metric.Int64Counter
	// ProviderRetries counts retry attempts by provider.
	ProviderRetries metric.Int64Counter
	// ProviderDuration tracks model call latency in seconds.
	ProviderDuration metric.Float64Histogram
	// ToolCalls counts tool executions by tool and status.
	ToolCalls metric.Int64Counter
	// Pauses counts interrupt and confirmation pauses by kind.
	Pauses metric.Int64Counter
	// ActiveSessions tracks live rpc sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderRequests, err = m.Int64Counter("tandem.provider.requests",
		metric.WithDescription("Model calls by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRetries, err = m.Int64Counter("tandem.provider.retries",
		metric.WithDescription("Retried model calls by provider."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("tandem.provider.duration",
		metric.WithDescription("Latency of model calls."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("tandem.tool.calls",
		metric.WithDescription("Tool executions by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.Pauses, err = m.Int64Counter("tandem.agent.pauses",
		metric.WithDescription("Agent pauses by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("tandem.rpc.sessions",
		metric.WithDescription("Live rpc sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level instruments built from the global
// meter provider. Tests should use NewMetrics with a noop provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("telemetry: creating default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProvider records one finished model call.
func (m *Metrics) RecordProvider(ctx context.Context, provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.ProviderDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordRetry records one retry attempt.
func (m *Metrics) RecordRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.ProviderRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordTool records one tool execution outcome.
func (m *Metrics) RecordTool(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordPause records an interrupt or confirmation pause.
func (m *Metrics) RecordPause(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Pauses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SessionOpened and SessionClosed move the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, 1)
	}
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, -1)
	}
}
