package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNoopMetricsDiscardsEverything(t *testing.T) {
	m := NewNoop()

	m.RecordPut(context.Background(), time.Millisecond, nil)
	m.RecordRead(context.Background(), time.Millisecond, true, errors.New("boom"))
	m.RecordDelete(context.Background(), time.Millisecond, nil)
	m.RecordBatchPut(context.Background(), 3, time.Millisecond, nil)
	m.RecordReadRange(context.Background(), 5, time.Millisecond, nil)
	m.RecordFlush(context.Background(), 10, time.Millisecond)
	m.RecordSegmentRoll(context.Background(), 2)
	m.RecordTailTruncation(context.Background(), 2, 128)

	require.NoError(t, m.Close())
}

func TestNewBuildsInstrumentsAgainstDefaultMeterProvider(t *testing.T) {
	meter := otel.GetMeterProvider().Meter("kvstore-test")

	m, err := New(meter)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordPut(context.Background(), time.Millisecond, nil)
	m.RecordRead(context.Background(), time.Millisecond, true, nil)
	m.RecordSegmentRoll(context.Background(), 0)

	require.NoError(t, m.Close())
}
