package store

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, dir
}

func TestEnginePutReadBasic(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))

	v, err := e.Read("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = e.Read("b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = e.Read("c")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineLastWriterWins(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.Put("k", []byte("v1")))
	require.NoError(t, e.Put("k", []byte("v2")))

	v, err := e.Read("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestEngineDeleteHidesValue(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.Put("k", []byte("v")))
	require.NoError(t, e.Delete("k"))

	_, err := e.Read("k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineBatchPutAndReadRange(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.BatchPut(
		[]string{"x", "y", "z"},
		[][]byte{[]byte("1"), []byte("2"), []byte("3")},
	))

	got, err := e.ReadRange("x", "z")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{
		"x": []byte("1"), "y": []byte("2"), "z": []byte("3"),
	}, got)
}

func TestEngineBatchPutLengthMismatch(t *testing.T) {
	e, _ := openTestEngine(t)

	err := e.BatchPut([]string{"a", "b"}, [][]byte{[]byte("1")})
	require.Error(t, err)
	require.True(t, IsKind(err, KindInvalidArgument))
}

// A tombstone written to a newer segment must shadow a live value left
// behind in an older, already-sealed segment, even after a fresh open.
func TestEngineTombstoneShadowsAcrossSegmentsAndRestart(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, WithMaxSegmentBytes(64))
	require.NoError(t, err)

	require.NoError(t, e.Put("k", []byte("original-value-padding")))
	// Force the current segment to roll so the delete below lands in a
	// newer segment than the original write.
	require.NoError(t, e.Put("filler-1", []byte("push-past-the-cap-xxxx")))
	require.NoError(t, e.Put("filler-2", []byte("push-past-the-cap-xxxx")))

	require.NoError(t, e.Delete("k"))
	require.NoError(t, e.Close())

	reopened, err := Open(dir, WithMaxSegmentBytes(64))
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Read("k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineReadRangeRespectsTombstones(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))
	require.NoError(t, e.Put("c", []byte("3")))
	require.NoError(t, e.Delete("b"))

	got, err := e.ReadRange("a", "c")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "c": []byte("3")}, got)
}

func TestEngineReadRangeTombstoneAcrossFlush(t *testing.T) {
	e, _ := openTestEngine(t, WithMemtableBytes(1))

	require.NoError(t, e.Put("k", []byte("v"))) // flushes immediately (1-byte budget)
	require.NoError(t, e.Delete("k"))

	got, err := e.ReadRange("a", "z")
	require.NoError(t, err)
	require.NotContains(t, got, "k")
}

func TestEngineDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.Put("k1", []byte("v1")))
	require.NoError(t, e.Put("k2", []byte("v2")))
	require.NoError(t, e.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Read("k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	v, err = reopened.Read("k2")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

// A heavy write volume that forces multiple rolls must still respect the
// segment size cap and leave segment ids dense with no gaps.
func TestEngineSegmentCapAndDenseIDs(t *testing.T) {
	dir := t.TempDir()
	const maxSegSize = 4096

	e, err := Open(dir, WithMaxSegmentBytes(maxSegSize))
	require.NoError(t, err)

	value := strings.Repeat("v", 200)
	for i := 0; i < 500; i++ {
		require.NoError(t, e.Put(fmt.Sprintf("key-%04d", i), []byte(value)))
	}
	require.NoError(t, e.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	ids := map[int]bool{}
	for _, ent := range entries {
		id, err := segmentIDFromName(ent.Name())
		require.NoError(t, err)
		ids[id] = true

		info, err := os.Stat(filepath.Join(dir, ent.Name()))
		require.NoError(t, err)
		require.LessOrEqual(t, info.Size(), int64(maxSegSize))
	}

	require.Greater(t, len(ids), 1, "this workload must force at least one roll")
	for i := 0; i < len(ids); i++ {
		require.True(t, ids[i], "segment ids must be dense: missing id %d", i)
	}

	// Reopen and confirm every key is still readable.
	reopened, err := Open(dir, WithMaxSegmentBytes(maxSegSize))
	require.NoError(t, err)
	defer reopened.Close()
	for i := 0; i < 500; i++ {
		v, err := reopened.Read(fmt.Sprintf("key-%04d", i))
		require.NoError(t, err)
		require.Equal(t, []byte(value), v)
	}
}

func TestEngineRecordLargerThanSegmentIsTooLarge(t *testing.T) {
	e, _ := openTestEngine(t, WithMaxSegmentBytes(32))

	err := e.Put("k", []byte(strings.Repeat("x", 64)))
	require.Error(t, err)
	require.True(t, IsKind(err, KindTooLarge))
}

func TestEngineRejectsEmptyKey(t *testing.T) {
	e, _ := openTestEngine(t)

	err := e.Put("", []byte("v"))
	require.True(t, IsKind(err, KindInvalidArgument))

	_, err = e.Read("")
	require.True(t, IsKind(err, KindInvalidArgument))
}

func TestEngineOperationsAfterCloseFail(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	err = e.Put("k", []byte("v"))
	require.True(t, IsKind(err, KindClosed))

	_, err = e.Read("k")
	require.True(t, IsKind(err, KindClosed))
}

func TestEngineExplicitEmptyValueIsNotADelete(t *testing.T) {
	e, _ := openTestEngine(t)

	require.NoError(t, e.Put("k", []byte{}))

	v, err := e.Read("k")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Empty(t, v)
}

// Disjoint concurrent writers plus a concurrent reader must never observe
// a torn value.
func TestEngineConcurrentWritersAndReader(t *testing.T) {
	e, _ := openTestEngine(t)

	const perWriter = 200
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			_ = e.Put(fmt.Sprintf("w1-%d", i), []byte(fmt.Sprintf("val-%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			_ = e.Put(fmt.Sprintf("w2-%d", i), []byte(fmt.Sprintf("val-%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			// Reads may race ahead of writes; either a clean miss or a
			// clean, non-torn hit is acceptable.
			if v, err := e.Read(fmt.Sprintf("w1-%d", i)); err == nil {
				require.Equal(t, fmt.Sprintf("val-%d", i), string(v))
			}
		}
	}()
	wg.Wait()

	for i := 0; i < perWriter; i++ {
		v, err := e.Read(fmt.Sprintf("w1-%d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("val-%d", i), string(v))

		v, err = e.Read(fmt.Sprintf("w2-%d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("val-%d", i), string(v))
	}
}

func TestSegmentFileNameWidth(t *testing.T) {
	require.Equal(t, "segment_000000", segmentFileName(0))
	require.Equal(t, "segment_000042", segmentFileName(42))
	require.Equal(t, "segment_999999", segmentFileName(999999))
}

func TestRecordSizeMath(t *testing.T) {
	require.Equal(t, int64(8+1+3), recordSize("a", []byte("abc")))
	require.Equal(t, int64(8+1), recordSize("a", nil))
	require.Equal(t, int64(headerSize), recordSize("", nil))
	require.Less(t, int64(math.MaxUint32), int64(math.MaxInt64))
}
