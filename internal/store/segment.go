package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/supermanng/monipoint/internal/telemetry"
)

// Segment is an append-only file holding a sequence of length-prefixed
// records plus an in-memory offset index. index maps a key to the absolute
// byte offset of its most recent record's value payload — the byte
// immediately after that record's value_length field, whether or not that
// record is a tombstone. A per-segment mutex guards the file handle, index
// and currentOffset so that positional reads stay consistent with
// concurrent appends even though the engine-level lock already serializes
// writers.
type Segment struct {
	path    string
	id      int
	maxSize int64

	mu            sync.Mutex
	file          *os.File
	index         map[string]int64
	currentOffset int64
	sealed        bool

	log     *zap.Logger
	metrics telemetry.Metrics
}

// openSegment opens path (creating it if missing) and rebuilds its index by
// scanning every record from offset 0. A parse failure partway through
// (a short length field, or declared lengths that run past the file's current
// length) is treated as a torn tail from an interrupted write and the file
// is truncated to the last verified record boundary — the format carries
// no per-record checksum, so any parse anomaly here is indistinguishable
// from a torn tail.
func openSegment(path string, id int, maxSize int64, log *zap.Logger, metrics telemetry.Metrics) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, newErr("open_segment", KindIO, "", err)
	}

	s := &Segment{
		path:    path,
		id:      id,
		maxSize: maxSize,
		file:    f,
		index:   make(map[string]int64),
		log:     log,
		metrics: metrics,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return s, nil
}

func (s *Segment) rebuildIndex() error {
	info, err := s.file.Stat()
	if err != nil {
		return newErr("rebuild_index", KindIO, "", err)
	}
	size := info.Size()

	var offset int64
	lenBuf := make([]byte, 4)

	for offset < size {
		n, err := s.file.ReadAt(lenBuf, offset)
		if err != nil && err != io.EOF {
			return newErr("rebuild_index", KindIO, "", err)
		}
		if n < 4 {
			s.truncateTail(offset, size)
			return nil
		}

		keyLen := binary.BigEndian.Uint32(lenBuf)
		n, err = s.file.ReadAt(lenBuf, offset+4+int64(keyLen))
		if err != nil && err != io.EOF {
			return newErr("rebuild_index", KindIO, "", err)
		}
		if n < 4 {
			s.truncateTail(offset, size)
			return nil
		}
		isTombstone, valLen := storedValueLength(binary.BigEndian.Uint32(lenBuf))

		recordLen := int64(headerSize) + int64(keyLen)
		if !isTombstone {
			recordLen += int64(valLen)
		}
		if offset+recordLen > size {
			s.truncateTail(offset, size)
			return nil
		}

		keyBuf := make([]byte, keyLen)
		if keyLen > 0 {
			n, err := s.file.ReadAt(keyBuf, offset+4)
			if err != nil && err != io.EOF {
				return newErr("rebuild_index", KindIO, "", err)
			}
			if uint32(n) < keyLen {
				s.truncateTail(offset, size)
				return nil
			}
		}

		valueOffset := offset + int64(headerSize) + int64(keyLen)
		s.index[string(keyBuf)] = valueOffset
		offset += recordLen
	}

	s.currentOffset = offset
	return nil
}

// truncateTail cuts the segment file back to the last verified record
// boundary (offset), discarding whatever partial bytes remain out to size.
func (s *Segment) truncateTail(offset, size int64) {
	if size > offset {
		if err := s.file.Truncate(offset); err != nil {
			s.log.Warn("crash-tail truncate failed",
				zap.String("path", s.path), zap.Error(err))
		} else {
			s.log.Warn("truncated torn write tail",
				zap.String("path", s.path),
				zap.Int64("offset", offset), zap.Int64("dropped_bytes", size-offset))
			s.metrics.RecordTailTruncation(context.Background(), s.id, size-offset)
		}
	}
	s.currentOffset = offset
}

// write appends key/value (a nil value is a tombstone) to the segment.
// It returns false without writing anything if the record would exceed
// the segment's configured maximum size. A successful write is fsync'd
// before returning true: once write returns true, the record survives a
// crash.
func (s *Segment) write(key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return false, nil
	}

	size := recordSize(key, value)
	if s.currentOffset+size > s.maxSize {
		return false, nil
	}

	buf := encodeRecord(key, value)
	if _, err := s.file.WriteAt(buf, s.currentOffset); err != nil {
		return false, newErr("write", KindIO, key, err)
	}
	if err := s.file.Sync(); err != nil {
		return false, newErr("write", KindIO, key, err)
	}

	valueOffset := s.currentOffset + int64(headerSize) + int64(len(key))
	s.index[key] = valueOffset
	s.currentOffset += size

	return true, nil
}

// read looks up key and returns its tri-state result: missing from this
// segment, present as a tombstone, or present as a live value. A tombstone
// hit still terminates the caller's search across segments — it shadows
// whatever an older segment holds for the same key.
func (s *Segment) read(key string) (lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(key)
}

func (s *Segment) readLocked(key string) (lookup, error) {
	valueOffset, ok := s.index[key]
	if !ok {
		return lookupMissing, nil
	}

	lenBuf := make([]byte, 4)
	if _, err := s.file.ReadAt(lenBuf, valueOffset-4); err != nil && err != io.EOF {
		return lookup{}, newErr("read", KindIO, key, err)
	}
	raw := binary.BigEndian.Uint32(lenBuf)
	isTombstone, valLen := storedValueLength(raw)
	if isTombstone {
		return lookupTombstone, nil
	}
	if valLen == 0 {
		return lookupValue([]byte{}), nil
	}

	valBuf := make([]byte, valLen)
	if _, err := s.file.ReadAt(valBuf, valueOffset); err != nil && err != io.EOF {
		return lookup{}, newErr("read", KindIO, key, err)
	}
	return lookupValue(valBuf), nil
}

// readRange returns the tri-state result for every key in this segment's
// index that falls within the inclusive [start, end] interval.
func (s *Segment) readRange(start, end string) (map[string]lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[string]lookup)
	for key := range s.index {
		if key < start || key > end {
			continue
		}
		res, err := s.readLocked(key)
		if err != nil {
			return nil, err
		}
		results[key] = res
	}
	return results, nil
}

// seal marks the segment read-only; it never returns to a writable state
// once sealed.
func (s *Segment) seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

func (s *Segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return newErr("close", KindIO, "", err)
	}
	if err := s.file.Close(); err != nil {
		return newErr("close", KindIO, "", err)
	}
	return nil
}

func segmentFileName(id int) string {
	return fmt.Sprintf("%s%0*d", segmentFilePrefix, segmentIDWidth, id)
}

// segmentIDFromName parses the zero-padded suffix of a segment_%06d
// filename. A name that doesn't fit the pattern is reported as KindCorrupt:
// unlike a torn write tail, a bad filename is not something the record
// scan can repair.
func segmentIDFromName(name string) (int, error) {
	if !strings.HasPrefix(name, segmentFilePrefix) {
		return 0, newErr("parse_segment_name", KindCorrupt, name, fmt.Errorf("missing %q prefix", segmentFilePrefix))
	}
	suffix := strings.TrimPrefix(name, segmentFilePrefix)
	id, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, newErr("parse_segment_name", KindCorrupt, name, err)
	}
	return id, nil
}
