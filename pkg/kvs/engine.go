// Package kvs implements a log-structured key-value engine in the Bitcask
// style. Every write is appended to the active generation file, an
// in-memory index maps each live key to its latest Set record, and reads
// go through the index straight to disk.
//
//	db, err := kvs.Open("/var/lib/kvs")
//	if err != nil { ... }
//	defer db.Close()
//
//	db.Set([]byte("foo"), []byte("bar"))
//	value, found, err := db.Get([]byte("foo"))
package kvs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-kvs/pkg/index"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/metrics"
	"github.com/dd0wney/cluso-kvs/pkg/pools"
	"github.com/dd0wney/cluso-kvs/pkg/record"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

// Engine is a Bitcask-style store rooted at one directory. It is safe for
// concurrent use; only one Engine may own a directory at a time.
type Engine struct {
	mu sync.RWMutex

	dir  string
	opts options

	index   *index.Index
	writer  *segment.Writer
	readers map[uint64]segment.Reader
	active  uint64

	// obsolete counts bytes of records the index no longer reaches;
	// totalBytes is the size of every generation file together.
	obsolete   uint64
	totalBytes uint64

	cache  *valueCache
	closed bool

	counters counters
	logger   logging.Logger
	metrics  metrics.Recorder
}

// counters are updated without the engine lock.
type counters struct {
	sets           atomic.Int64
	gets           atomic.Int64
	removes        atomic.Int64
	compactions    atomic.Int64
	reclaimedBytes atomic.Uint64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	LiveKeys         int
	ObsoleteBytes    uint64
	TotalBytes       uint64
	ActiveGeneration uint64
	Generations      int

	Sets           int64
	Gets           int64
	Removes        int64
	Compactions    int64
	ReclaimedBytes uint64

	CacheEntries int
	CacheHits    int64
	CacheMisses  int64
}

// Open opens the engine in dir, creating the directory if needed, and
// rebuilds the index by replaying every generation. A damaged frame makes
// Open fail with ErrCorruptLog.
func Open(dir string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, newError("open").Cause(err).Err()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, newError("open").Cause(fmt.Errorf("failed to create data directory: %w", err)).Err()
	}

	e := &Engine{
		dir:     dir,
		opts:    o,
		index:   index.New(),
		readers: make(map[uint64]segment.Reader),
		cache:   newValueCache(o.cacheEntries),
		logger:  o.logger.With(logging.Component("kvs")),
		metrics: o.metrics,
	}

	timer := logging.StartTimer(e.logger, "recovery", logging.Dir(dir))
	if err := e.recover(); err != nil {
		timer.EndError(err)
		e.closeFiles()
		return nil, err
	}
	timer.End(
		logging.Count(len(e.readers)),
		logging.Int("live_keys", e.index.Len()),
		logging.Bytes("obsolete_bytes", e.obsolete),
		logging.Generation(e.active),
	)

	e.publishState()
	return e, nil
}

// Dir returns the data directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Set stores value under key, replacing any previous value.
func (e *Engine) Set(key, value []byte) error {
	start := time.Now()

	e.mu.Lock()
	err := e.set(key, value)
	e.mu.Unlock()

	e.observe("set", start, err)
	return err
}

func (e *Engine) set(key, value []byte) error {
	if e.closed {
		return ErrClosed
	}

	ptr, err := e.append(record.Set(key, value))
	if err != nil {
		return newError("set").Key(key).Cause(err).Err()
	}

	if old, replaced := e.index.Insert(key, ptr); replaced {
		e.obsolete += old.Length
	}
	e.cache.invalidate(key)
	e.counters.sets.Add(1)

	e.afterWrite()
	return nil
}

// Get returns the value stored under key. A missing key is reported with
// found == false and a nil error.
func (e *Engine) Get(key []byte) (value []byte, found bool, err error) {
	start := time.Now()

	e.mu.RLock()
	value, found, err = e.get(key)
	e.mu.RUnlock()

	switch {
	case err != nil:
		e.observe("get", start, err)
	case !found:
		e.metrics.ObserveOperation("get", metrics.StatusNotFound, time.Since(start))
	default:
		e.observe("get", start, nil)
	}
	return value, found, err
}

func (e *Engine) get(key []byte) ([]byte, bool, error) {
	if e.closed {
		return nil, false, ErrClosed
	}
	e.counters.gets.Add(1)

	ptr, ok := e.index.Lookup(key)
	if !ok {
		return nil, false, nil
	}

	if e.cache != nil {
		if v, ok := e.cache.get(key); ok {
			e.counters.cacheHits.Add(1)
			e.metrics.CacheHit()
			return v, true, nil
		}
		e.counters.cacheMisses.Add(1)
		e.metrics.CacheMiss()
	}

	rec, err := e.readRecord(ptr)
	if err != nil {
		return nil, false, newError("get").Key(key).Pointer(ptr).Cause(err).Err()
	}
	if !rec.IsSet() || !bytes.Equal(rec.Key, key) {
		return nil, false, newError("get").Key(key).Pointer(ptr).Kind(ErrCorruptIndex).
			Cause(fmt.Errorf("found %s record for key %q", rec.Type, rec.Key)).Err()
	}

	e.cache.put(key, rec.Value)
	return rec.Value, true, nil
}

// Remove deletes key. Removing a key that is not present returns
// ErrKeyNotFound and writes nothing.
func (e *Engine) Remove(key []byte) error {
	start := time.Now()

	e.mu.Lock()
	err := e.remove(key)
	e.mu.Unlock()

	if errors.Is(err, ErrKeyNotFound) {
		e.metrics.ObserveOperation("remove", metrics.StatusNotFound, time.Since(start))
	} else {
		e.observe("remove", start, err)
	}
	return err
}

func (e *Engine) remove(key []byte) error {
	if e.closed {
		return ErrClosed
	}

	old, ok := e.index.Lookup(key)
	if !ok {
		return newError("remove").Key(key).Kind(ErrKeyNotFound).Err()
	}

	ptr, err := e.append(record.Remove(key))
	if err != nil {
		return newError("remove").Key(key).Cause(err).Err()
	}

	e.index.Remove(key)
	e.obsolete += old.Length + ptr.Length
	e.cache.invalidate(key)
	e.counters.removes.Add(1)

	e.afterWrite()
	return nil
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		LiveKeys:         e.index.Len(),
		ObsoleteBytes:    e.obsolete,
		TotalBytes:       e.totalBytes,
		ActiveGeneration: e.active,
		Generations:      len(e.readers),
		Sets:             e.counters.sets.Load(),
		Gets:             e.counters.gets.Load(),
		Removes:          e.counters.removes.Load(),
		Compactions:      e.counters.compactions.Load(),
		ReclaimedBytes:   e.counters.reclaimedBytes.Load(),
		CacheEntries:     e.cache.len(),
		CacheHits:        e.counters.cacheHits.Load(),
		CacheMisses:      e.counters.cacheMisses.Load(),
	}
}

// Close syncs the active generation and releases every file. Operations
// after Close return ErrClosed; closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.closeFiles(); err != nil {
		e.logger.Error("close failed", logging.Error(err))
		return newError("close").Cause(err).Err()
	}
	e.logger.Info("closed", logging.Generation(e.active))
	return nil
}

func (e *Engine) closeFiles() error {
	var errs []error
	if e.writer != nil {
		errs = append(errs, e.writer.Close())
	}
	for _, r := range e.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

// append encodes rec onto the active generation and returns its pointer.
func (e *Engine) append(rec record.Record) (index.LogPointer, error) {
	frame := record.AppendEncode(pools.GetBytes(int(record.EncodedLen(rec))), rec)
	defer pools.PutBytes(frame)

	offset, err := e.writer.Append(frame)
	if err != nil {
		return index.LogPointer{}, err
	}
	e.totalBytes += uint64(len(frame))
	return index.LogPointer{Generation: e.active, Offset: offset, Length: uint64(len(frame))}, nil
}

// readRecord reads and decodes the frame at ptr.
func (e *Engine) readRecord(ptr index.LogPointer) (record.Record, error) {
	r, ok := e.readers[ptr.Generation]
	if !ok {
		return record.Record{}, fmt.Errorf("%w: no generation %d", ErrCorruptIndex, ptr.Generation)
	}
	frame, err := r.ReadExact(ptr.Offset, ptr.Length)
	if err != nil {
		return record.Record{}, err
	}
	return record.Decode(frame)
}

// afterWrite runs the housekeeping that may follow a successful append.
// The write itself is already durable in the log, so housekeeping failures
// are logged rather than returned.
func (e *Engine) afterWrite() {
	if e.opts.segmentSize > 0 && e.writer.Size() >= e.opts.segmentSize {
		if err := e.rollover(); err != nil {
			e.logger.Error("rollover failed", logging.Generation(e.active), logging.Error(err))
		}
	}

	if e.opts.compaction.Auto && e.opts.compaction.ShouldCompact(e.obsolete, e.totalBytes) {
		if _, err := e.compact(); err != nil {
			e.logger.Error("automatic compaction failed", logging.Error(err))
		}
	}

	e.publishState()
}

// rollover seals the active generation and starts the next one.
func (e *Engine) rollover() error {
	next := e.active + 1

	w, r, err := e.openActive(next)
	if err != nil {
		return err
	}

	sealed, oldWriter := e.active, e.writer
	e.writer, e.active = w, next
	e.readers[next] = r

	if err := oldWriter.Close(); err != nil {
		e.logger.Error("failed to close sealed generation", logging.Generation(sealed), logging.Error(err))
	}
	e.sealReader(sealed)

	e.logger.Debug("rolled over", logging.Generation(next), logging.Uint64("sealed_generation", sealed))
	return nil
}

// sealReader swaps a sealed generation's file reader for a memory map when
// that is enabled. Failure keeps the file reader.
func (e *Engine) sealReader(gen uint64) {
	if !e.opts.mmapSealed {
		return
	}
	mr, err := segment.OpenMappedReader(e.dir, gen)
	if err != nil {
		e.logger.Warn("mmap failed, keeping file reader", logging.Generation(gen), logging.Error(err))
		return
	}
	if old, ok := e.readers[gen]; ok {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close sealed file reader", logging.Generation(gen), logging.Error(err))
		}
	}
	e.readers[gen] = mr
}

// openSealedReader opens a reader for a generation that will not grow.
func (e *Engine) openSealedReader(gen uint64) (segment.Reader, error) {
	if e.opts.mmapSealed {
		r, err := segment.OpenMappedReader(e.dir, gen)
		if err == nil {
			return r, nil
		}
		e.logger.Warn("mmap failed, using file reader", logging.Generation(gen), logging.Error(err))
	}
	return segment.OpenFileReader(e.dir, gen)
}

func (e *Engine) publishState() {
	e.metrics.SetLogState(metrics.LogState{
		LiveKeys:      e.index.Len(),
		ObsoleteBytes: e.obsolete,
		TotalBytes:    e.totalBytes,
		Generations:   len(e.readers),
	})
}

func (e *Engine) observe(op string, start time.Time, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	e.metrics.ObserveOperation(op, status, time.Since(start))
}
