// Package telemetry provides the engine's instrumentation surface: a small
// interface over OpenTelemetry counters and histograms, plus a no-op
// implementation so the storage engine carries no observability tax unless
// an embedder opts in. Modeled on jeremytregunna-kevo's
// pkg/engine/telemetry.go and pkg/stats/collector.go: an interface named
// for what it records, a concrete otel-backed implementation, and a no-op
// twin for tests and disabled telemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the instrumentation surface the storage engine calls into on
// every operation. Method names mirror the engine operations they
// instrument rather than a generic Record(name, ...) shape, following
// kevo's EngineMetrics interface style.
type Metrics interface {
	RecordPut(ctx context.Context, duration time.Duration, err error)
	RecordRead(ctx context.Context, duration time.Duration, hit bool, err error)
	RecordDelete(ctx context.Context, duration time.Duration, err error)
	RecordBatchPut(ctx context.Context, n int, duration time.Duration, err error)
	RecordReadRange(ctx context.Context, resultCount int, duration time.Duration, err error)
	RecordFlush(ctx context.Context, entryCount int, duration time.Duration)
	RecordSegmentRoll(ctx context.Context, segmentID int)
	RecordTailTruncation(ctx context.Context, segmentID int, bytesDropped int64)
	Close() error
}

// otelMetrics implements Metrics on top of an otel/metric.Meter.
type otelMetrics struct {
	opCounter      metric.Int64Counter
	opErrorCounter metric.Int64Counter
	opLatency      metric.Float64Histogram
	readHitCounter metric.Int64Counter
	flushCounter   metric.Int64Counter
	rollCounter    metric.Int64Counter
	truncCounter   metric.Int64Counter
}

// New builds a Metrics implementation backed by the given meter. Passing
// otel.GetMeterProvider().Meter("...") without configuring an SDK is safe:
// the default global provider is a no-op, so New behaves like NewNoop
// until the embedder wires up a real MeterProvider.
func New(meter metric.Meter) (Metrics, error) {
	opCounter, err := meter.Int64Counter(
		"kvstore.engine.operations",
		metric.WithDescription("count of engine operations by type"),
	)
	if err != nil {
		return nil, err
	}
	opErrorCounter, err := meter.Int64Counter(
		"kvstore.engine.operation_errors",
		metric.WithDescription("count of engine operation failures by type"),
	)
	if err != nil {
		return nil, err
	}
	opLatency, err := meter.Float64Histogram(
		"kvstore.engine.operation_latency_ms",
		metric.WithDescription("engine operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	readHitCounter, err := meter.Int64Counter(
		"kvstore.engine.read_hits",
		metric.WithDescription("count of reads that resolved to a live value"),
	)
	if err != nil {
		return nil, err
	}
	flushCounter, err := meter.Int64Counter(
		"kvstore.engine.flushes",
		metric.WithDescription("count of memtable flushes to a fresh segment"),
	)
	if err != nil {
		return nil, err
	}
	rollCounter, err := meter.Int64Counter(
		"kvstore.engine.segment_rolls",
		metric.WithDescription("count of segment rolls, from the size cap or a memtable flush"),
	)
	if err != nil {
		return nil, err
	}
	truncCounter, err := meter.Int64Counter(
		"kvstore.engine.tail_truncations",
		metric.WithDescription("count of crash-tail truncations performed during startup rebuild"),
	)
	if err != nil {
		return nil, err
	}
	return &otelMetrics{
		opCounter:      opCounter,
		opErrorCounter: opErrorCounter,
		opLatency:      opLatency,
		readHitCounter: readHitCounter,
		flushCounter:   flushCounter,
		rollCounter:    rollCounter,
		truncCounter:   truncCounter,
	}, nil
}

func (m *otelMetrics) record(ctx context.Context, op string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attrOp(op))
	m.opCounter.Add(ctx, 1, attrs)
	m.opLatency.Record(ctx, float64(d.Microseconds())/1000.0, attrs)
	if err != nil {
		m.opErrorCounter.Add(ctx, 1, attrs)
	}
}

func attrOp(op string) attribute.KeyValue {
	return attribute.String("op", op)
}

func (m *otelMetrics) RecordPut(ctx context.Context, d time.Duration, err error) {
	m.record(ctx, "put", d, err)
}

func (m *otelMetrics) RecordRead(ctx context.Context, d time.Duration, hit bool, err error) {
	m.record(ctx, "read", d, err)
	if hit {
		m.readHitCounter.Add(ctx, 1)
	}
}

func (m *otelMetrics) RecordDelete(ctx context.Context, d time.Duration, err error) {
	m.record(ctx, "delete", d, err)
}

func (m *otelMetrics) RecordBatchPut(ctx context.Context, n int, d time.Duration, err error) {
	m.record(ctx, "batch_put", d, err)
	m.opCounter.Add(ctx, int64(n), metric.WithAttributes(attrOp("batch_put.item")))
}

func (m *otelMetrics) RecordReadRange(ctx context.Context, resultCount int, d time.Duration, err error) {
	m.record(ctx, "read_range", d, err)
}

func (m *otelMetrics) RecordFlush(ctx context.Context, entryCount int, d time.Duration) {
	m.flushCounter.Add(ctx, 1)
	m.opLatency.Record(ctx, float64(d.Microseconds())/1000.0, metric.WithAttributes(attrOp("flush")))
}

func (m *otelMetrics) RecordSegmentRoll(ctx context.Context, segmentID int) {
	m.rollCounter.Add(ctx, 1)
}

func (m *otelMetrics) RecordTailTruncation(ctx context.Context, segmentID int, bytesDropped int64) {
	m.truncCounter.Add(ctx, 1)
}

func (m *otelMetrics) Close() error { return nil }
