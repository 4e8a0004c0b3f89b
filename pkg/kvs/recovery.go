package kvs

import (
	"github.com/dd0wney/cluso-kvs/pkg/index"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/record"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

// recover rebuilds the index from disk and opens the files the engine
// serves from. It runs before the engine is shared, so it takes no lock.
func (e *Engine) recover() error {
	removed, err := segment.RemoveStaleTemps(e.dir)
	if err != nil {
		return newError("open").Cause(err).Err()
	}
	if removed > 0 {
		e.logger.Warn("removed leftover compaction files", logging.Count(removed))
	}

	gens, err := segment.ListGenerations(e.dir)
	if err != nil {
		return newError("open").Cause(err).Err()
	}

	for _, gen := range gens {
		if err := e.replayGeneration(gen); err != nil {
			return err
		}
	}

	// An empty directory starts at generation 0.
	if len(gens) > 0 {
		e.active = gens[len(gens)-1]
	}

	for _, gen := range gens {
		if gen == e.active {
			continue
		}
		r, err := e.openSealedReader(gen)
		if err != nil {
			return newError("open").At(gen, 0).Cause(err).Err()
		}
		e.readers[gen] = r
	}

	w, err := segment.OpenWriter(e.dir, e.active, e.opts.writerOptions())
	if err != nil {
		return newError("open").At(e.active, 0).Cause(err).Err()
	}
	e.writer = w

	r, err := segment.OpenFileReader(e.dir, e.active)
	if err != nil {
		return newError("open").At(e.active, 0).Cause(err).Err()
	}
	e.readers[e.active] = r

	return nil
}

// replayGeneration applies every record of gen to the index in file order.
func (e *Engine) replayGeneration(gen uint64) error {
	sc, err := segment.OpenScanner(e.dir, gen)
	if err != nil {
		return newError("open").At(gen, 0).Cause(err).Err()
	}
	defer sc.Close()

	var frames int
	for sc.Next() {
		rec, err := record.Decode(sc.Frame())
		if err != nil {
			return newError("open").At(gen, sc.Offset()).Kind(ErrCorruptLog).Cause(err).Err()
		}
		e.replay(rec, index.LogPointer{
			Generation: gen,
			Offset:     sc.Offset(),
			Length:     uint64(len(sc.Frame())),
		})
		frames++
	}

	if err := sc.Err(); err != nil {
		b := newError("open").Cause(err)
		if isCorruption(err) {
			b.Kind(ErrCorruptLog)
		}
		return b.Err()
	}

	e.totalBytes += sc.Size()
	e.logger.Debug("replayed generation", logging.Generation(gen), logging.Count(frames), logging.Bytes("bytes", sc.Size()))
	return nil
}

// replay applies one record found at ptr. Obsolete bytes are every byte the
// index cannot reach, and no index entry ever points at a Remove, so a
// Remove's own bytes count even when its key was already absent. The live
// engine never writes such a Remove; it only shows up in foreign logs.
func (e *Engine) replay(rec record.Record, ptr index.LogPointer) {
	switch rec.Type {
	case record.TypeSet:
		if old, replaced := e.index.Insert(rec.Key, ptr); replaced {
			e.obsolete += old.Length
		}
	case record.TypeRemove:
		if old, existed := e.index.Remove(rec.Key); existed {
			e.obsolete += old.Length
		}
		e.obsolete += ptr.Length
	}
}
