package kvs

import (
	"fmt"

	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/metrics"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

const (
	// DefaultSegmentSize is the size at which the active generation is
	// sealed and a new one started.
	DefaultSegmentSize = 64 * 1024 * 1024

	// DefaultMinObsoleteBytes is the smallest amount of garbage worth
	// compacting.
	DefaultMinObsoleteBytes = 1024 * 1024

	// DefaultObsoleteRatio is the share of the log that must be garbage
	// before compaction runs.
	DefaultObsoleteRatio = 0.5
)

// CompactionPolicy decides when the log is rewritten.
type CompactionPolicy struct {
	// Auto runs a pass after any write that satisfies the policy.
	Auto bool
	// MinObsoleteBytes and ObsoleteRatio must both be met.
	MinObsoleteBytes uint64
	ObsoleteRatio    float64
}

// DefaultCompactionPolicy returns the policy used when none is given.
func DefaultCompactionPolicy() CompactionPolicy {
	return CompactionPolicy{
		Auto:             true,
		MinObsoleteBytes: DefaultMinObsoleteBytes,
		ObsoleteRatio:    DefaultObsoleteRatio,
	}
}

// ShouldCompact reports whether obsolete bytes out of total warrant a pass.
func (p CompactionPolicy) ShouldCompact(obsolete, total uint64) bool {
	if obsolete == 0 || obsolete < p.MinObsoleteBytes {
		return false
	}
	return float64(obsolete) >= p.ObsoleteRatio*float64(total)
}

type options struct {
	segmentSize  uint64
	syncWrites   bool
	mmapSealed   bool
	cacheEntries int
	compaction   CompactionPolicy
	logger       logging.Logger
	metrics      metrics.Recorder
}

func defaultOptions() options {
	return options{
		segmentSize: DefaultSegmentSize,
		compaction:  DefaultCompactionPolicy(),
		logger:      logging.NopLogger{},
		metrics:     metrics.Nop{},
	}
}

func (o options) validate() error {
	if o.cacheEntries < 0 {
		return fmt.Errorf("read cache entries must not be negative, got %d", o.cacheEntries)
	}
	if o.compaction.ObsoleteRatio < 0 || o.compaction.ObsoleteRatio > 1 {
		return fmt.Errorf("obsolete ratio must be within [0, 1], got %v", o.compaction.ObsoleteRatio)
	}
	return nil
}

func (o options) writerOptions() segment.WriterOptions {
	return segment.WriterOptions{SyncEveryWrite: o.syncWrites}
}

// Option configures an Engine.
type Option func(*options)

// WithSegmentSize sets the rollover threshold in bytes; 0 disables rollover.
func WithSegmentSize(n uint64) Option {
	return func(o *options) { o.segmentSize = n }
}

// WithSyncWrites fsyncs the active generation after every write.
func WithSyncWrites(enabled bool) Option {
	return func(o *options) { o.syncWrites = enabled }
}

// WithMmapSealedSegments serves reads from sealed generations through
// memory maps.
func WithMmapSealedSegments(enabled bool) Option {
	return func(o *options) { o.mmapSealed = enabled }
}

// WithReadCache keeps up to n recently read values in memory; 0 disables it.
func WithReadCache(n int) Option {
	return func(o *options) { o.cacheEntries = n }
}

// WithCompactionPolicy replaces the compaction policy.
func WithCompactionPolicy(p CompactionPolicy) Option {
	return func(o *options) { o.compaction = p }
}

// WithAutoCompaction toggles compaction after writes, keeping thresholds.
func WithAutoCompaction(enabled bool) Option {
	return func(o *options) { o.compaction.Auto = enabled }
}

// WithLogger sets the engine's logger. A nil logger disables logging.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = logging.NopLogger{}
		}
		o.logger = l
	}
}

// WithMetrics reports engine activity to r. A nil recorder disables metrics.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) {
		if r == nil {
			r = metrics.Nop{}
		}
		o.metrics = r
	}
}
