package store

import "sort"

// memEntry is a single buffered write. value is nil (and tombstone is
// true) for a delete; otherwise value may legitimately be a zero-length
// slice, since the tombstone marker redesign (record.go) frees an empty
// value from double-duty as a deletion sentinel.
type memEntry struct {
	value     []byte
	tombstone bool
}

func (e memEntry) size(key string) int64 {
	return int64(len(key) + len(e.value))
}

// memtable is the in-memory, key-ordered write buffer: it supports point
// lookup, ordered range scans, and an estimated-byte-size budget that
// triggers a flush.
//
// Ordering is kept as a sorted key slice alongside a map, rather than a
// lock-free concurrent skip list: that structure exists to let many
// goroutines mutate a memtable without a coarse lock, a problem this
// engine doesn't have — a single engine-level RWMutex already serializes
// every writer and keeps readers out while a writer holds it (readers share
// the read lock, and only read the buffer). The sorted-slice ordered map keeps the
// same query shape (ordered iteration, seek-to-range) with none of that
// machinery.
type memtable struct {
	keys      []string // ascending, unique
	entries   map[string]memEntry
	sizeBytes int64
	maxBytes  int64
}

func newMemtable(maxBytes int64) *memtable {
	return &memtable{
		entries:  make(map[string]memEntry),
		maxBytes: maxBytes,
	}
}

// put inserts or overwrites key's buffered entry.
func (mt *memtable) put(key string, value []byte, tombstone bool) {
	newEntry := memEntry{value: value, tombstone: tombstone}

	if old, ok := mt.entries[key]; ok {
		mt.sizeBytes -= old.size(key)
		mt.entries[key] = newEntry
		mt.sizeBytes += newEntry.size(key)
		return
	}

	mt.entries[key] = newEntry
	mt.sizeBytes += newEntry.size(key)
	mt.insertKey(key)
}

func (mt *memtable) insertKey(key string) {
	i := sort.SearchStrings(mt.keys, key)
	mt.keys = append(mt.keys, "")
	copy(mt.keys[i+1:], mt.keys[i:])
	mt.keys[i] = key
}

func (mt *memtable) removeKey(key string) {
	i := sort.SearchStrings(mt.keys, key)
	if i >= len(mt.keys) || mt.keys[i] != key {
		return
	}
	mt.keys = append(mt.keys[:i], mt.keys[i+1:]...)
}

// get returns the buffered entry for key, if any.
func (mt *memtable) get(key string) (memEntry, bool) {
	e, ok := mt.entries[key]
	return e, ok
}

// delete purges key from the buffer entirely — used by Engine.Delete after
// the tombstone has already been fsync'd to the current segment, so the
// buffer doesn't spend space on a marker the segment already durably
// records.
func (mt *memtable) delete(key string) {
	e, ok := mt.entries[key]
	if !ok {
		return
	}
	mt.sizeBytes -= e.size(key)
	delete(mt.entries, key)
	mt.removeKey(key)
}

// submap returns every buffered key in [start, end], in ascending order.
// It returns keys only; callers look each entry up with get.
func (mt *memtable) submap(start, end string) []string {
	lo := sort.SearchStrings(mt.keys, start)
	hi := sort.Search(len(mt.keys), func(i int) bool { return mt.keys[i] > end })
	if lo >= hi {
		return nil
	}
	out := make([]string, hi-lo)
	copy(out, mt.keys[lo:hi])
	return out
}

// orderedKeys returns every buffered key in ascending order, the order
// flush drains the memtable in.
func (mt *memtable) orderedKeys() []string {
	out := make([]string, len(mt.keys))
	copy(out, mt.keys)
	return out
}

func (mt *memtable) len() int { return len(mt.keys) }

func (mt *memtable) exceeds(threshold int64) bool { return mt.sizeBytes >= threshold }

// reset empties the buffer after a successful flush drain.
func (mt *memtable) reset() {
	mt.keys = nil
	mt.entries = make(map[string]memEntry)
	mt.sizeBytes = 0
}
