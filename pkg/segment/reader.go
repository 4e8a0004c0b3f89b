package segment

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"golang.org/x/exp/mmap"
)

// Reader gives random access to the frames of one generation.
// Implementations are safe for concurrent ReadExact calls and are never
// written through.
type Reader interface {
	// ReadExact returns exactly length bytes starting at offset, or
	// ErrTruncatedRecord if the file ends first.
	ReadExact(offset, length uint64) ([]byte, error)
	// Size returns the current file size in bytes.
	Size() (int64, error)
	// Generation returns the generation id of the file.
	Generation() uint64
	// Close releases the underlying handle.
	Close() error
}

var (
	_ Reader = (*FileReader)(nil)
	_ Reader = (*MappedReader)(nil)
)

// FileReader reads a generation through a read-only file handle using
// positional reads, so it can serve a file that is still being appended to.
type FileReader struct {
	gen  uint64
	file *os.File
}

// OpenFileReader opens generation gen in dir for reading.
func OpenFileReader(dir string, gen uint64) (*FileReader, error) {
	file, err := os.Open(Path(dir, gen))
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %d for reading: %w", gen, err)
	}
	return &FileReader{gen: gen, file: file}, nil
}

// ReadExact implements Reader.
func (r *FileReader) ReadExact(offset, length uint64) ([]byte, error) {
	if err := checkRange(r.gen, offset, length); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := r.file.ReadAt(buf, int64(offset))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		return nil, truncated(r.gen, offset, length, uint64(n))
	}
	return nil, fmt.Errorf("failed to read generation %d at offset %d: %w", r.gen, offset, err)
}

// Size implements Reader.
func (r *FileReader) Size() (int64, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Generation implements Reader.
func (r *FileReader) Generation() uint64 {
	return r.gen
}

// Close implements Reader.
func (r *FileReader) Close() error {
	return r.file.Close()
}

// MappedReader serves a sealed generation from a read-only memory map.
// The file must not grow after it is mapped.
type MappedReader struct {
	gen       uint64
	mmap      *mmap.ReaderAt
	closeOnce sync.Once
	closeErr  error
}

// OpenMappedReader maps generation gen in dir.
func OpenMappedReader(dir string, gen uint64) (*MappedReader, error) {
	reader, err := mmap.Open(Path(dir, gen))
	if err != nil {
		return nil, fmt.Errorf("failed to map generation %d: %w", gen, err)
	}
	return &MappedReader{gen: gen, mmap: reader}, nil
}

// ReadExact implements Reader.
func (r *MappedReader) ReadExact(offset, length uint64) ([]byte, error) {
	if err := checkRange(r.gen, offset, length); err != nil {
		return nil, err
	}

	size := uint64(r.mmap.Len())
	if offset > size || length > size-offset {
		available := uint64(0)
		if offset < size {
			available = size - offset
		}
		return nil, truncated(r.gen, offset, length, available)
	}

	buf := make([]byte, length)
	if _, err := r.mmap.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read mapped generation %d at offset %d: %w", r.gen, offset, err)
	}
	return buf, nil
}

// Size implements Reader.
func (r *MappedReader) Size() (int64, error) {
	return int64(r.mmap.Len()), nil
}

// Generation implements Reader.
func (r *MappedReader) Generation() uint64 {
	return r.gen
}

// Close implements Reader.
func (r *MappedReader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.mmap.Close()
	})
	return r.closeErr
}

// checkRange rejects ranges that cannot be addressed with int64 offsets.
func checkRange(gen, offset, length uint64) error {
	if offset > math.MaxInt64 || length > math.MaxInt64-offset {
		return fmt.Errorf("%w: generation %d range [%d, +%d) is not addressable", ErrTruncatedRecord, gen, offset, length)
	}
	return nil
}

func truncated(gen, offset, want, got uint64) error {
	return fmt.Errorf("%w: generation %d offset %d wants %d bytes, %d available", ErrTruncatedRecord, gen, offset, want, got)
}
