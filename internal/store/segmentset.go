package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/supermanng/monipoint/internal/telemetry"
)

// segmentSet is the ordered collection of segments living in a data
// directory, plus a pointer to the current (write-target) segment.
// Segments are only ever appended to segments; an old current segment is
// sealed and retained for reads, never reopened for writes.
type segmentSet struct {
	dir      string
	maxSize  int64
	log      *zap.Logger
	metrics  telemetry.Metrics
	segments []*Segment // ascending by id
	current  *Segment
}

// openSegmentSet enumerates dir for files matching segment_%06d, loads
// each into a Segment (rebuilding its index), and sorts them by segment id
// ascending. The highest-id segment becomes current. If the directory has
// no segments yet, a fresh segment 0 is created.
func openSegmentSet(dir string, maxSize int64, log *zap.Logger, metrics telemetry.Metrics) (*segmentSet, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, newErr("open_segment_set", KindIO, "", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newErr("open_segment_set", KindIO, "", err)
	}

	type idPath struct {
		id   int
		path string
	}
	var found []idPath
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), segmentFilePrefix) {
			continue
		}
		id, err := segmentIDFromName(ent.Name())
		if err != nil {
			return nil, err
		}
		found = append(found, idPath{id: id, path: filepath.Join(dir, ent.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })

	ss := &segmentSet{dir: dir, maxSize: maxSize, log: log, metrics: metrics}

	if len(found) == 0 {
		seg, err := openSegment(segmentPath(dir, 0), 0, maxSize, log, metrics)
		if err != nil {
			return nil, err
		}
		ss.segments = append(ss.segments, seg)
		ss.current = seg
		return ss, nil
	}

	for _, fp := range found {
		seg, err := openSegment(fp.path, fp.id, maxSize, log, metrics)
		if err != nil {
			return nil, err
		}
		ss.segments = append(ss.segments, seg)
	}
	ss.current = ss.segments[len(ss.segments)-1]
	for _, seg := range ss.segments[:len(ss.segments)-1] {
		seg.seal()
	}
	return ss, nil
}

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, segmentFileName(id))
}

// roll seals the current segment and creates a new one, one past the
// highest id currently on disk (segment ids stay dense and monotonically
// increasing), installing it as current.
func (ss *segmentSet) roll() (*Segment, error) {
	nextID := ss.segments[len(ss.segments)-1].id + 1
	seg, err := openSegment(segmentPath(ss.dir, nextID), nextID, ss.maxSize, ss.log, ss.metrics)
	if err != nil {
		return nil, err
	}
	if ss.current != nil {
		ss.current.seal()
	}
	ss.segments = append(ss.segments, seg)
	ss.current = seg
	ss.log.Info("rolled segment", zap.Int("segment_id", seg.id))
	ss.metrics.RecordSegmentRoll(context.Background(), seg.id)
	return seg, nil
}

// newestFirst returns segments from newest to oldest, the order the read
// path requires for both point reads and range merges.
func (ss *segmentSet) newestFirst() []*Segment {
	out := make([]*Segment, len(ss.segments))
	for i, seg := range ss.segments {
		out[len(ss.segments)-1-i] = seg
	}
	return out
}

func (ss *segmentSet) close() error {
	var firstErr error
	for _, seg := range ss.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
