package kvs

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-kvs/pkg/index"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

// CompactionResult summarizes one compaction pass.
type CompactionResult struct {
	Generation     uint64 // generation holding the copied records
	LiveKeys       int
	LiveBytes      uint64
	ReclaimedBytes uint64
	Duration       time.Duration
}

// Compact rewrites every live record into a fresh generation and deletes
// all older generations, regardless of the compaction policy.
func (e *Engine) Compact() (CompactionResult, error) {
	start := time.Now()

	e.mu.Lock()
	var (
		res CompactionResult
		err error
	)
	if e.closed {
		err = ErrClosed
	} else {
		res, err = e.compact()
		e.publishState()
	}
	e.mu.Unlock()

	e.observe("compact", start, err)
	return res, err
}

// compact runs one pass. The caller holds the write lock.
//
// Live records are copied, in on-disk order, into a temp file that is
// renamed to generation active+1 once synced. Writes continue in a new
// active generation active+2. Until the old generations are deleted, a
// crash leaves duplicate but consistent data: replay visits the old files
// first and the compacted copy last.
func (e *Engine) compact() (CompactionResult, error) {
	timer := logging.StartTimer(e.logger, "compaction", logging.Generation(e.active))

	target := e.active + 1
	before := e.totalBytes

	moved, liveBytes, err := e.copyLive(target)
	if err != nil {
		timer.EndError(err)
		return CompactionResult{}, newError("compact").At(target, 0).Cause(err).Err()
	}

	compacted, err := e.openSealedReader(target)
	if err != nil {
		segment.Remove(e.dir, target)
		timer.EndError(err)
		return CompactionResult{}, newError("compact").At(target, 0).Cause(err).Err()
	}

	next := target + 1
	w, r, err := e.openActive(next)
	if err != nil {
		compacted.Close()
		segment.Remove(e.dir, target)
		timer.EndError(err)
		return CompactionResult{}, newError("compact").At(next, 0).Cause(err).Err()
	}

	// From here on the pass cannot fail; cleanup errors are only logged.
	oldWriter, oldReaders := e.writer, e.readers
	e.writer, e.active = w, next
	e.readers = map[uint64]segment.Reader{target: compacted, next: r}

	for _, m := range moved {
		e.index.Retarget([]byte(m.key), m.from, m.to)
	}

	if err := oldWriter.Close(); err != nil {
		e.logger.Warn("failed to close previous active generation", logging.Error(err))
	}
	for gen, old := range oldReaders {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close compacted generation", logging.Generation(gen), logging.Error(err))
		}
		if err := segment.Remove(e.dir, gen); err != nil {
			e.logger.Warn("failed to delete compacted generation", logging.Generation(gen), logging.Error(err))
		}
	}
	if err := segment.SyncDir(e.dir); err != nil {
		e.logger.Warn("failed to sync data directory", logging.Error(err))
	}

	e.totalBytes = liveBytes
	e.obsolete = 0
	e.cache.clear()

	res := CompactionResult{
		Generation: target,
		LiveKeys:   len(moved),
		LiveBytes:  liveBytes,
		Duration:   timer.Elapsed(),
	}
	if before > liveBytes {
		res.ReclaimedBytes = before - liveBytes
	}

	e.counters.compactions.Add(1)
	e.counters.reclaimedBytes.Add(res.ReclaimedBytes)
	e.metrics.ObserveCompaction(res.ReclaimedBytes, res.Duration)
	timer.End(
		logging.Uint64("compacted_generation", target),
		logging.Int("live_keys", res.LiveKeys),
		logging.Bytes("reclaimed_bytes", res.ReclaimedBytes),
	)
	return res, nil
}

type movedEntry struct {
	key      string
	from, to index.LogPointer
}

// copyLive writes the frame of every indexed record into generation target
// through a temp file and commits it.
func (e *Engine) copyLive(target uint64) ([]movedEntry, uint64, error) {
	tmp, err := segment.CreateTemp(e.dir, target, segment.WriterOptions{BufferSize: 256 * 1024})
	if err != nil {
		return nil, 0, err
	}

	entries := e.index.Snapshot()
	moved := make([]movedEntry, 0, len(entries))
	for _, ent := range entries {
		r, ok := e.readers[ent.Pointer.Generation]
		if !ok {
			tmp.Abort()
			return nil, 0, fmt.Errorf("%w: key %q points at missing generation %d", ErrCorruptIndex, ent.Key, ent.Pointer.Generation)
		}
		frame, err := r.ReadExact(ent.Pointer.Offset, ent.Pointer.Length)
		if err != nil {
			tmp.Abort()
			return nil, 0, err
		}
		offset, err := tmp.Append(frame)
		if err != nil {
			tmp.Abort()
			return nil, 0, err
		}
		moved = append(moved, movedEntry{
			key:  ent.Key,
			from: ent.Pointer,
			to:   index.LogPointer{Generation: target, Offset: offset, Length: ent.Pointer.Length},
		})
	}

	liveBytes := tmp.Size()
	if err := tmp.Commit(); err != nil {
		tmp.Abort()
		segment.Remove(e.dir, target)
		return nil, 0, err
	}
	return moved, liveBytes, nil
}

// openActive opens the writer and reader for a new active generation.
func (e *Engine) openActive(gen uint64) (*segment.Writer, segment.Reader, error) {
	w, err := segment.OpenWriter(e.dir, gen, e.opts.writerOptions())
	if err != nil {
		return nil, nil, err
	}
	r, err := segment.OpenFileReader(e.dir, gen)
	if err != nil {
		w.Close()
		segment.Remove(e.dir, gen)
		return nil, nil, err
	}
	return w, r, nil
}
