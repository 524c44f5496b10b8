package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCacheHits   = "historian.cache.hits"
	metricCacheMisses = "historian.cache.misses"
)

// CacheStatsProvider reports cumulative hit/miss counts for a cache. Intended
// for the response cache; kept as an interface so metrics registration
// doesn't depend on the concrete cache type.
type CacheStatsProvider interface {
	CacheHits() int64
	CacheMisses() int64
}

// RegisterCacheMetrics registers an asynchronous gauge pair reporting the
// response cache's cumulative hits and misses. provider may be nil, in which
// case no data points are reported for it.
func RegisterCacheMetrics(mt metric.Meter, provider CacheStatsProvider) error {
	hits, err := mt.Int64ObservableGauge(metricCacheHits,
		metric.WithDescription("Cumulative response cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheHits, err)
	}

	misses, err := mt.Int64ObservableGauge(metricCacheMisses,
		metric.WithDescription("Cumulative response cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheMisses, err)
	}

	if provider == nil {
		return nil
	}

	attrs := attribute.String("cache", "response")

	_, err = mt.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(hits, provider.CacheHits(), metric.WithAttributes(attrs))
		o.ObserveInt64(misses, provider.CacheMisses(), metric.WithAttributes(attrs))
		return nil
	}, hits, misses)
	if err != nil {
		return fmt.Errorf("register cache metrics callback: %w", err)
	}

	return nil
}
