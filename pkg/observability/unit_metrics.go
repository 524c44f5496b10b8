package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricUnitsTotal      = "historian.analysis.units.total"
	metricLLMCallDuration = "historian.analysis.llm.call.duration.seconds"
	metricLLMTokensTotal  = "historian.analysis.llm.tokens.total"
	metricRetriesTotal    = "historian.analysis.retries.total"

	attrTier = "tier"
)

// UnitMetrics holds OTel instruments for per-unit analysis metrics: how many
// units were classified into each tier, how long LLM calls took, how many
// tokens they consumed, and how often a call had to be retried.
type UnitMetrics struct {
	unitsTotal      metric.Int64Counter
	llmCallDuration metric.Float64Histogram
	llmTokensTotal  metric.Int64Counter
	retriesTotal    metric.Int64Counter
}

// UnitStats holds the statistics for a single analyzed unit, decoupled from
// framework types.
type UnitStats struct {
	Tier     string
	Duration time.Duration
	Tokens   int64
	Retries  int64
}

// NewUnitMetrics creates per-unit metric instruments from the given meter.
func NewUnitMetrics(mt metric.Meter) (*UnitMetrics, error) {
	units, err := mt.Int64Counter(metricUnitsTotal,
		metric.WithDescription("Total analysis units processed, by tier"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricUnitsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricLLMCallDuration,
		metric.WithDescription("LLM call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricLLMCallDuration, err)
	}

	tokens, err := mt.Int64Counter(metricLLMTokensTotal,
		metric.WithDescription("Total LLM tokens consumed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricLLMTokensTotal, err)
	}

	retries, err := mt.Int64Counter(metricRetriesTotal,
		metric.WithDescription("Total LLM call retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRetriesTotal, err)
	}

	return &UnitMetrics{
		unitsTotal:      units,
		llmCallDuration: duration,
		llmTokensTotal:  tokens,
		retriesTotal:    retries,
	}, nil
}

// RecordUnit records the statistics for a single completed analysis unit.
// Safe to call on a nil receiver (no-op).
func (um *UnitMetrics) RecordUnit(ctx context.Context, stats UnitStats) {
	if um == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrTier, stats.Tier))

	um.unitsTotal.Add(ctx, 1, attrs)
	um.llmCallDuration.Record(ctx, stats.Duration.Seconds(), attrs)
	um.llmTokensTotal.Add(ctx, stats.Tokens, attrs)

	if stats.Retries > 0 {
		um.retriesTotal.Add(ctx, stats.Retries, attrs)
	}
}
