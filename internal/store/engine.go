// Package store implements the persistent, embeddable key-value storage
// engine: an append-only segmented log on disk, a byte-budgeted in-memory
// write buffer, per-segment offset indexing, and the read-merge and
// locking policy that make "newest write wins" hold across concurrent
// readers and serialized writers.
//
// The public surface is Open, Put, Read, Delete, BatchPut, ReadRange and
// Close — a synchronous library contract. Multiplexing this onto a wire
// protocol, a thread pool, or a CLI dispatcher is a transport layer's job
// and lives outside this package.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supermanng/monipoint/internal/telemetry"
)

// Engine is the public storage engine: a data directory, a write-buffering
// memtable, an ordered set of on-disk segments, and the reader-writer lock
// that guards all three.
type Engine struct {
	dir     string
	mu      sync.RWMutex
	mt      *memtable
	segs    *segmentSet
	cfg     Config
	log     *zap.Logger
	metrics telemetry.Metrics
	closed  bool
}

// Open opens (or creates) a data directory as a storage engine. Segment
// discovery, index rebuild and crash-tail truncation all happen here,
// synchronously, before Open returns.
func Open(dataDir string, opts ...Option) (*Engine, error) {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Normalize()

	segs, err := openSegmentSet(dataDir, cfg.MaxSegmentBytes, cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("opened storage engine",
		zap.String("dir", dataDir),
		zap.Int("segment_count", len(segs.segments)),
		zap.Int64("max_segment_bytes", cfg.MaxSegmentBytes),
		zap.Int64("memtable_bytes", cfg.MemtableBytes),
	)

	return &Engine{
		dir:     dataDir,
		mt:      newMemtable(cfg.MemtableBytes),
		segs:    segs,
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

func validateKey(op, key string) error {
	if key == "" {
		return newErr(op, KindInvalidArgument, key, errors.New("key must not be empty"))
	}
	return nil
}

// Put stores value under key. A nil value is a delete (use Delete for the
// purge-from-memtable optimization; a bare Put(key, nil) still durably
// tombstones the key).
func (e *Engine) Put(key string, value []byte) error {
	if err := validateKey("put", key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return newErr("put", KindClosed, key, nil)
	}

	start := time.Now()
	err := e.putLocked(key, value)
	e.metrics.RecordPut(context.Background(), time.Since(start), err)
	return err
}

// putLocked assumes the write lock is already held. It exists so BatchPut
// and Delete can apply multiple puts under a single lock acquisition —
// Go's sync.RWMutex is not reentrant, so the public Put cannot simply call
// itself while holding the lock.
//
// The disk write happens before the memtable insertion, not after: a write
// failure after a memtable insertion would leave the buffer reflecting a
// value that never became durable. Writing first means the memtable only
// ever holds state that has already been fsync'd to a segment.
func (e *Engine) putLocked(key string, value []byte) error {
	ok, err := e.segs.current.write(key, value)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := e.segs.roll(); err != nil {
			return err
		}
		ok, err = e.segs.current.write(key, value)
		if err != nil {
			return err
		}
		if !ok {
			return newErr("put", KindTooLarge, key, fmt.Errorf(
				"record of %d bytes exceeds max segment size of %d bytes",
				recordSize(key, value), e.cfg.MaxSegmentBytes))
		}
	}

	isTombstone := value == nil
	e.mt.put(key, value, isTombstone)

	if e.mt.exceeds(e.cfg.MemtableBytes) {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the value stored under key. It returns ErrKeyNotFound if
// the key was never written, or if the newest record found for it — in
// the memtable or across segments, newest to oldest — is a tombstone.
func (e *Engine) Read(key string) ([]byte, error) {
	if err := validateKey("read", key); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, newErr("read", KindClosed, key, nil)
	}

	start := time.Now()
	val, err := e.readLocked(key)
	e.metrics.RecordRead(context.Background(), time.Since(start), err == nil, err)
	return val, err
}

func (e *Engine) readLocked(key string) ([]byte, error) {
	if entry, ok := e.mt.get(key); ok {
		if entry.tombstone {
			return nil, ErrKeyNotFound
		}
		return entry.value, nil
	}

	for _, seg := range e.segs.newestFirst() {
		res, err := seg.read(key)
		if err != nil {
			return nil, err
		}
		switch res.state {
		case stateTombstone:
			return nil, ErrKeyNotFound
		case stateValue:
			return res.value, nil
		}
	}
	return nil, ErrKeyNotFound
}

// ReadRange returns every currently-live key in the inclusive [start, end]
// interval, merging the memtable and every segment (newest to oldest) so
// that a tombstone anywhere newer than a key's live value occludes it.
func (e *Engine) ReadRange(start, end string) (map[string][]byte, error) {
	if err := validateKey("read_range", start); err != nil {
		return nil, err
	}
	if err := validateKey("read_range", end); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, newErr("read_range", KindClosed, "", nil)
	}

	t0 := time.Now()
	results := make(map[string][]byte)
	occluded := make(map[string]bool)

	for _, key := range e.mt.submap(start, end) {
		entry, _ := e.mt.get(key)
		if entry.tombstone {
			occluded[key] = true
			continue
		}
		results[key] = entry.value
	}

	for _, seg := range e.segs.newestFirst() {
		segResults, err := seg.readRange(start, end)
		if err != nil {
			return nil, err
		}
		for key, res := range segResults {
			if _, decided := results[key]; decided {
				continue
			}
			if occluded[key] {
				continue
			}
			switch res.state {
			case stateTombstone:
				occluded[key] = true
			case stateValue:
				results[key] = res.value
			}
		}
	}

	e.metrics.RecordReadRange(context.Background(), len(results), time.Since(t0), nil)
	return results, nil
}

// Delete removes key. It writes a tombstone through the normal durable
// write path and then purges the buffered entry from the memtable — the
// on-disk tombstone (already fsync'd) remains the authoritative signal on
// later reads, so the memtable purge is a space optimization, not a
// correctness requirement.
func (e *Engine) Delete(key string) error {
	if err := validateKey("delete", key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return newErr("delete", KindClosed, key, nil)
	}

	start := time.Now()
	err := e.putLocked(key, nil)
	if err == nil {
		e.mt.delete(key)
	}
	e.metrics.RecordDelete(context.Background(), time.Since(start), err)
	return err
}

// BatchPut applies each keys[i]/values[i] pair in order under a single
// write-lock acquisition. It is not atomic: a failure partway through
// leaves every earlier write durable.
func (e *Engine) BatchPut(keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return newErr("batch_put", KindInvalidArgument, "", fmt.Errorf(
			"keys and values must have the same length, got %d and %d", len(keys), len(values)))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return newErr("batch_put", KindClosed, "", nil)
	}

	start := time.Now()
	var err error
	for i := range keys {
		if err = validateKey("batch_put", keys[i]); err != nil {
			break
		}
		if err = e.putLocked(keys[i], values[i]); err != nil {
			break
		}
	}
	e.metrics.RecordBatchPut(context.Background(), len(keys), time.Since(start), err)
	return err
}

// flushLocked creates a new segment, drains the memtable into it in key
// order (rolling further segments as each fills), and clears the memtable.
// It assumes the write lock is already held; flush must never interleave
// with other writes.
func (e *Engine) flushLocked() error {
	if e.mt.len() == 0 {
		return nil
	}
	start := time.Now()

	if _, err := e.segs.roll(); err != nil {
		return err
	}

	keys := e.mt.orderedKeys()
	for _, key := range keys {
		entry, _ := e.mt.get(key)
		var value []byte
		if !entry.tombstone {
			value = entry.value
		}

		ok, err := e.segs.current.write(key, value)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := e.segs.roll(); err != nil {
				return err
			}
			ok, err = e.segs.current.write(key, value)
			if err != nil {
				return err
			}
			if !ok {
				return newErr("flush", KindTooLarge, key, fmt.Errorf(
					"record of %d bytes exceeds max segment size of %d bytes",
					recordSize(key, value), e.cfg.MaxSegmentBytes))
			}
		}
	}

	n := e.mt.len()
	e.mt.reset()
	e.metrics.RecordFlush(context.Background(), n, time.Since(start))
	e.log.Info("flushed memtable", zap.Int("entries", n), zap.Duration("duration", time.Since(start)))
	return nil
}

// Close flushes the memtable and closes every segment. It is the sole
// release path for the engine's file handles and must run before process
// exit to guarantee the memtable's contents reach disk.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	if err := e.flushLocked(); err != nil {
		return err
	}
	err := e.segs.close()
	e.closed = true
	_ = e.metrics.Close()
	return err
}
