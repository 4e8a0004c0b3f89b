package segment

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WriterOptions configures a generation writer.
type WriterOptions struct {
	// BufferSize is the bufio buffer size (0 = bufio default).
	BufferSize int
	// SyncEveryWrite fsyncs after every Append instead of only on Sync/Close.
	SyncEveryWrite bool
}

// Writer appends frames to one generation file.
type Writer struct {
	gen      uint64
	dir      string
	path     string
	file     *os.File
	writer   *bufio.Writer
	size     uint64
	opts     WriterOptions
	temp     bool
	closed   bool
	brokenBy error
	mu       sync.Mutex
}

// OpenWriter opens (or creates) generation gen in dir for appending.
// Appends continue after any bytes already in the file.
func OpenWriter(dir string, gen uint64, opts WriterOptions) (*Writer, error) {
	return openWriter(dir, gen, Path(dir, gen), opts, false)
}

// CreateTemp creates a writer on a fresh scratch file that becomes
// generation gen once Commit succeeds.
func CreateTemp(dir string, gen uint64, opts WriterOptions) (*Writer, error) {
	return openWriter(dir, gen, TempPath(dir, gen), opts, true)
}

func openWriter(dir string, gen uint64, path string, opts WriterOptions, temp bool) (*Writer, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if temp {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %d for writing: %w", gen, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat generation %d: %w", gen, err)
	}

	var bw *bufio.Writer
	if opts.BufferSize > 0 {
		bw = bufio.NewWriterSize(file, opts.BufferSize)
	} else {
		bw = bufio.NewWriter(file)
	}

	return &Writer{
		gen:    gen,
		dir:    dir,
		path:   path,
		file:   file,
		writer: bw,
		size:   uint64(info.Size()),
		opts:   opts,
		temp:   temp,
	}, nil
}

// Generation returns the generation id this writer appends to.
func (w *Writer) Generation() uint64 {
	return w.gen
}

// Append writes p at the end of the generation and returns the offset at
// which p starts. The bytes are handed to the OS before Append returns, so
// readers of the same file observe them. On failure the file is truncated
// back to its previous length.
func (w *Writer) Append(p []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.brokenBy != nil {
		return 0, fmt.Errorf("generation %d writer unusable after failed rollback: %w", w.gen, w.brokenBy)
	}

	offset := w.size
	if err := w.write(p); err != nil {
		w.rollback(offset)
		return 0, fmt.Errorf("failed to append to generation %d: %w", w.gen, err)
	}

	w.size += uint64(len(p))
	return offset, nil
}

func (w *Writer) write(p []byte) error {
	if _, err := w.writer.Write(p); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.SyncEveryWrite {
		return w.file.Sync()
	}
	return nil
}

// rollback discards a partially written frame so the next append starts on
// a frame boundary.
func (w *Writer) rollback(offset uint64) {
	if err := w.file.Truncate(int64(offset)); err != nil {
		w.brokenBy = err
		return
	}
	w.writer.Reset(w.file)
}

// Size returns the number of bytes in the generation, including appends.
func (w *Writer) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Sync flushes buffered bytes and fsyncs the file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.sync()
}

func (w *Writer) sync() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush generation %d: %w", w.gen, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync generation %d: %w", w.gen, err)
	}
	return nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.close()
}

func (w *Writer) close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	syncErr := w.sync()
	closeErr := w.file.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Commit finalizes a writer created with CreateTemp: the scratch file is
// synced, closed and atomically renamed to the generation's real name.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.temp {
		return fmt.Errorf("generation %d: commit called on a non-temporary writer", w.gen)
	}
	if err := w.close(); err != nil {
		return err
	}

	final := Path(w.dir, w.gen)
	if err := os.Rename(w.path, final); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", filepath.Base(w.path), filepath.Base(final), err)
	}
	w.path = final
	w.temp = false

	return SyncDir(w.dir)
}

// Abort closes a temporary writer and deletes its scratch file.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.temp {
		return fmt.Errorf("generation %d: abort called on a non-temporary writer", w.gen)
	}
	closeErr := w.close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
