package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/historian/pkg/observability"
)

// acceptanceSpanCount is the expected number of spans in the acceptance test
// (root + discover + analyze).
const acceptanceSpanCount = 3

// acceptanceUnitCount is the simulated unit count used in log assertions.
const acceptanceUnitCount = 42

// TestAcceptance_EndToEnd verifies all three observability signals (traces,
// metrics, structured logs with trace context) work together in a single
// simulated pipeline run.
func TestAcceptance_EndToEnd(t *testing.T) {
	t.Parallel()

	// Setup: in-memory trace exporter.
	spanExporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	tracer := tp.Tracer("historian")

	// Setup: in-memory metric reader.
	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	meter := mp.Meter("historian")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	units, err := observability.NewUnitMetrics(meter)
	require.NoError(t, err)

	err = observability.RegisterCacheMetrics(meter, &stubCacheStats{hits: 100, misses: 10})
	require.NoError(t, err)

	// Setup: structured logger with trace context.
	var logBuf bytes.Buffer

	innerHandler := slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	tracingHandler := observability.NewTracingHandler(innerHandler, "historian", "test", observability.ModeCLI)
	logger := slog.New(tracingHandler)

	// Simulate pipeline: root span, child spans, metrics, logs.
	ctx, rootSpan := tracer.Start(context.Background(), "historian.run")

	_, discoverSpan := tracer.Start(ctx, "historian.discover")
	discoverSpan.End()

	_, analyzeSpan := tracer.Start(ctx, "historian.analyze.unit")
	analyzeSpan.End()

	// Record metrics within the trace context.
	red.RecordRequest(ctx, "cli.run", "ok", time.Second)

	units.RecordUnit(ctx, observability.UnitStats{
		Tier:     "major",
		Duration: 2 * time.Second,
		Tokens:   1200,
		Retries:  1,
	})

	// Emit a log line within the trace context.
	logger.InfoContext(ctx, "pipeline.complete", "units", acceptanceUnitCount)

	rootSpan.End()

	// Assert: Traces.
	spans := spanExporter.GetSpans()
	require.Len(t, spans, acceptanceSpanCount, "expected root + 2 child spans")

	spanNames := make(map[string]bool, len(spans))
	for _, s := range spans {
		spanNames[s.Name] = true
	}

	assert.True(t, spanNames["historian.run"], "root span should exist")
	assert.True(t, spanNames["historian.discover"], "discover span should exist")
	assert.True(t, spanNames["historian.analyze.unit"], "analyze span should exist")

	// All spans share the same trace ID.
	traceID := spans[0].SpanContext.TraceID()
	for _, s := range spans[1:] {
		assert.Equal(t, traceID, s.SpanContext.TraceID(),
			"span %q should share trace ID", s.Name)
	}

	// Assert: Metrics.
	var rm metricdata.ResourceMetrics

	err = metricReader.Collect(ctx, &rm)
	require.NoError(t, err)

	reqTotal := findMetric(rm, "historian.requests.total")
	require.NotNil(t, reqTotal, "request counter should be recorded")

	reqDuration := findMetric(rm, "historian.request.duration.seconds")
	require.NotNil(t, reqDuration, "duration histogram should be recorded")

	// Assert: Unit metrics.
	unitsTotal := findMetric(rm, "historian.analysis.units.total")
	require.NotNil(t, unitsTotal, "units counter should be recorded")

	llmDuration := findMetric(rm, "historian.analysis.llm.call.duration.seconds")
	require.NotNil(t, llmDuration, "LLM call duration histogram should be recorded")

	llmTokens := findMetric(rm, "historian.analysis.llm.tokens.total")
	require.NotNil(t, llmTokens, "LLM tokens counter should be recorded")

	retries := findMetric(rm, "historian.analysis.retries.total")
	require.NotNil(t, retries, "retries counter should be recorded")

	// Assert: Cache metrics.
	cacheHits := findMetric(rm, "historian.cache.hits")
	require.NotNil(t, cacheHits, "cache hits gauge should be recorded")

	cacheMisses := findMetric(rm, "historian.cache.misses")
	require.NotNil(t, cacheMisses, "cache misses gauge should be recorded")

	// Assert: Logs contain trace_id.
	var logRecord map[string]any

	err = json.Unmarshal(logBuf.Bytes(), &logRecord)
	require.NoError(t, err)

	assert.Equal(t, traceID.String(), logRecord["trace_id"],
		"log line should contain the active trace_id")
	assert.Contains(t, logRecord, "span_id",
		"log line should contain span_id")
	assert.Equal(t, "historian", logRecord["service"],
		"log line should contain service name")

	unitsLogged, ok := logRecord["units"].(float64)
	require.True(t, ok, "units should be a number")
	assert.InDelta(t, acceptanceUnitCount, unitsLogged, 0,
		"log line should contain custom attributes")
}
