// Package observability exposes the engine's OpenTelemetry instruments and
// spans, plus the optional OTLP export pipeline.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "dropwatch"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	pollLatency metric.Float64Histogram
	polls       metric.Int64Counter
	pollErrors  metric.Int64Counter
	discovered  metric.Int64Counter
	attempts    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var (
		m   Metrics
		err error
	)
	if m.pollLatency, err = meter.Float64Histogram("dropwatch.poll.latency",
		metric.WithDescription("Catalog snapshot round-trip latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("poll latency histogram: %w", err)
	}
	if m.polls, err = meter.Int64Counter("dropwatch.poll.count"); err != nil {
		return nil, fmt.Errorf("poll counter: %w", err)
	}
	if m.pollErrors, err = meter.Int64Counter("dropwatch.poll.errors"); err != nil {
		return nil, fmt.Errorf("poll error counter: %w", err)
	}
	if m.discovered, err = meter.Int64Counter("dropwatch.items.discovered"); err != nil {
		return nil, fmt.Errorf("discovered counter: %w", err)
	}
	if m.attempts, err = meter.Int64Counter("dropwatch.acquire.attempts",
		metric.WithDescription("Acquisition attempts by identity and outcome"),
	); err != nil {
		return nil, fmt.Errorf("attempt counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) RecordPoll(ctx context.Context, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.polls.Add(ctx, 1)
	if err != nil {
		m.pollErrors.Add(ctx, 1)
		return
	}
	m.pollLatency.Record(ctx, float64(latency)/float64(time.Millisecond))
}

func (m *Metrics) AddDiscovered(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.discovered.Add(ctx, int64(n))
}

// RecordAttempt counts one acquisition attempt. outcome is "success" or an
// error kind name.
func (m *Metrics) RecordAttempt(ctx context.Context, identity, outcome string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("identity", identity),
		attribute.String("outcome", outcome),
	))
}
