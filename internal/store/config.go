package store

import (
	"go.uber.org/zap"

	"github.com/supermanng/monipoint/internal/telemetry"
)

// Sizing constants for the engine. The memtable threshold is a byte
// budget end to end, not an entry count.
const (
	defaultMaxSegmentBytes = 1024 * 1024 // 1 MiB
	defaultMemtableBytes   = 1024 * 1024 // 1 MiB

	segmentFilePrefix = "segment_"
	segmentIDWidth    = 6

	// headerSize is the 8 bytes of length fields every record carries: a
	// u32 keyLen before the key and a u32 valueLen after it. See record.go.
	headerSize = 8

	// tombstoneMarker is the value-length sentinel that marks a record as
	// a deletion, freeing value_length == 0 to mean "stored empty value"
	// instead of overloading it as a deletion marker too.
	tombstoneMarker = 0xFFFFFFFF
)

// Config holds the tunables the engine's constructor accepts. There is no
// environment variable or config-file path into the engine; every field
// here is set by an Option at Open time.
type Config struct {
	MaxSegmentBytes int64
	MemtableBytes   int64
	Logger          *zap.Logger
	Metrics         telemetry.Metrics
}

// Default returns the zero-config engine tunables.
func Default() Config {
	return Config{
		MaxSegmentBytes: defaultMaxSegmentBytes,
		MemtableBytes:   defaultMemtableBytes,
		Logger:          zap.NewNop(),
		Metrics:         telemetry.NewNoop(),
	}
}

// Normalize fills in zero-valued fields with their defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = d.MaxSegmentBytes
	}
	if c.MemtableBytes <= 0 {
		c.MemtableBytes = d.MemtableBytes
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	}
}

// Option configures an Engine at Open time.
type Option func(*Config)

// WithMaxSegmentBytes overrides the per-segment size cap.
func WithMaxSegmentBytes(n int64) Option {
	return func(c *Config) { c.MaxSegmentBytes = n }
}

// WithMemtableBytes overrides the memtable flush threshold, measured in
// estimated key+value bytes rather than entry count.
func WithMemtableBytes(n int64) Option {
	return func(c *Config) { c.MemtableBytes = n }
}

// WithLogger installs a structured logger. The default is a no-op logger,
// so an embedder that doesn't care about engine internals pays nothing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics installs a telemetry.Metrics implementation. The default is
// a no-op collector.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}
