package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/roach88/tokenbot/internal/engine"

// Metrics holds the coordinator's instruments.
// A nil *Metrics records nothing.
type Metrics struct {
	transactions    metric.Int64Counter
	refunds         metric.Int64Counter
	inconsistencies metric.Int64Counter
	effectDuration  metric.Float64Histogram
}

// NewMetrics registers the coordinator instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transactions, err := meter.Int64Counter("tokenbot.transactions",
		metric.WithDescription("Paid actions by kind and result"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transactions counter: %w", err)
	}

	refunds, err := meter.Int64Counter("tokenbot.refunds",
		metric.WithDescription("Compensating credits written after a failed action"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refunds counter: %w", err)
	}

	inconsistencies, err := meter.Int64Counter("tokenbot.inconsistencies",
		metric.WithDescription("Refunds that could not be written"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inconsistencies counter: %w", err)
	}

	effectDuration, err := meter.Float64Histogram("tokenbot.effect.duration",
		metric.WithDescription("Time spent in the effect applier"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create effect duration histogram: %w", err)
	}

	return &Metrics{
		transactions:    transactions,
		refunds:         refunds,
		inconsistencies: inconsistencies,
		effectDuration:  effectDuration,
	}, nil
}

// defaultMetrics uses the global meter provider, which is a no-op until
// telemetry.Setup installs one.
func defaultMetrics() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return nil
	}
	return m
}

func (m *Metrics) transaction(ctx context.Context, kind string, result string) {
	if m == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", kind),
		attribute.String("result", result),
	))
}

func (m *Metrics) refund(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("action", kind)))
}

func (m *Metrics) inconsistency(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.inconsistencies.Add(ctx, 1, metric.WithAttributes(attribute.String("action", kind)))
}

func (m *Metrics) effect(ctx context.Context, kind string, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.effectDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("action", kind),
		attribute.Bool("ok", ok),
	))
}
