package telemetry

import (
	"context"
	"time"
)

// noopMetrics discards everything. It is the engine's default so an
// embedder that never calls store.WithMetrics pays nothing for
// instrumentation, mirroring kevo's NewNoopEngineMetrics.
type noopMetrics struct{}

// NewNoop returns a Metrics implementation that does nothing.
func NewNoop() Metrics { return noopMetrics{} }

func (noopMetrics) RecordPut(context.Context, time.Duration, error)                    {}
func (noopMetrics) RecordRead(context.Context, time.Duration, bool, error)             {}
func (noopMetrics) RecordDelete(context.Context, time.Duration, error)                 {}
func (noopMetrics) RecordBatchPut(context.Context, int, time.Duration, error)          {}
func (noopMetrics) RecordReadRange(context.Context, int, time.Duration, error)         {}
func (noopMetrics) RecordFlush(context.Context, int, time.Duration)                    {}
func (noopMetrics) RecordSegmentRoll(context.Context, int)                             {}
func (noopMetrics) RecordTailTruncation(context.Context, int, int64)                   {}
func (noopMetrics) Close() error                                                       { return nil }
