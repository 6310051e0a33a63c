package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemtablePutGet(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	mt.put("a", []byte("1"), false)

	e, ok := mt.get("a")
	require.True(t, ok)
	require.False(t, e.tombstone)
	require.Equal(t, []byte("1"), e.value)
}

func TestMemtableOverwriteTracksSize(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	mt.put("a", []byte("short"), false)
	sizeAfterFirst := mt.sizeBytes

	mt.put("a", []byte("a much longer value"), false)
	require.NotEqual(t, sizeAfterFirst, mt.sizeBytes)
	require.Equal(t, 1, mt.len(), "overwriting a key must not duplicate it in the ordered key list")
}

func TestMemtableDeletePurgesEntry(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	mt.put("a", []byte("1"), false)
	mt.delete("a")

	_, ok := mt.get("a")
	require.False(t, ok)
	require.Equal(t, 0, mt.len())
	require.Equal(t, int64(0), mt.sizeBytes)
}

func TestMemtableSubmapOrderedAndInclusive(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	for _, k := range []string{"d", "b", "a", "c", "e"} {
		mt.put(k, []byte(k), false)
	}

	got := mt.submap("b", "d")
	require.Equal(t, []string{"b", "c", "d"}, got)
}

func TestMemtableOrderedKeysAscending(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	for _, k := range []string{"z", "y", "x"} {
		mt.put(k, []byte("v"), false)
	}
	require.Equal(t, []string{"x", "y", "z"}, mt.orderedKeys())
}

func TestMemtableExceedsThreshold(t *testing.T) {
	mt := newMemtable(10)
	require.False(t, mt.exceeds(10))
	mt.put("k", []byte("0123456789"), false)
	require.True(t, mt.exceeds(10))
}

func TestMemtableResetClearsEverything(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	mt.put("a", []byte("1"), false)
	mt.put("b", nil, true)
	mt.reset()

	require.Equal(t, 0, mt.len())
	require.Equal(t, int64(0), mt.sizeBytes)
	_, ok := mt.get("a")
	require.False(t, ok)
}

func TestMemtableTombstoneDistinctFromEmptyValue(t *testing.T) {
	mt := newMemtable(defaultMemtableBytes)
	mt.put("deleted", nil, true)
	mt.put("empty", []byte{}, false)

	del, ok := mt.get("deleted")
	require.True(t, ok)
	require.True(t, del.tombstone)

	empty, ok := mt.get("empty")
	require.True(t, ok)
	require.False(t, empty.tombstone)
	require.Empty(t, empty.value)
}
