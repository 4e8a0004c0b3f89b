package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dd0wney/cluso-kvs/pkg/record"
)

const scanBufferSize = 64 * 1024

// Scanner walks the frames of one generation from offset 0 to the end.
//
//	sc, _ := segment.OpenScanner(dir, gen)
//	defer sc.Close()
//	for sc.Next() {
//		use(sc.Offset(), sc.Frame())
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	gen    uint64
	file   *os.File
	reader *bufio.Reader
	size   uint64
	next   uint64
	offset uint64
	frame  []byte
	err    error
}

// OpenScanner opens generation gen in dir for sequential scanning.
func OpenScanner(dir string, gen uint64) (*Scanner, error) {
	file, err := os.Open(Path(dir, gen))
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %d for scanning: %w", gen, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat generation %d: %w", gen, err)
	}

	return &Scanner{
		gen:    gen,
		file:   file,
		reader: bufio.NewReaderSize(file, scanBufferSize),
		size:   uint64(info.Size()),
	}, nil
}

// Next advances to the next frame. It returns false at the end of the file
// or on the first error; check Err afterwards.
func (s *Scanner) Next() bool {
	if s.err != nil || s.next == s.size {
		return false
	}

	remaining := s.size - s.next
	if remaining < record.HeaderSize {
		s.err = truncated(s.gen, s.next, record.HeaderSize, remaining)
		return false
	}

	var prefix [record.HeaderSize]byte
	if _, err := io.ReadFull(s.reader, prefix[:]); err != nil {
		s.err = fmt.Errorf("failed to read generation %d at offset %d: %w", s.gen, s.next, err)
		return false
	}

	total, err := record.FrameLength(prefix[:])
	if err != nil {
		s.err = err
		return false
	}
	if total < record.HeaderSize {
		s.err = fmt.Errorf("%w: generation %d offset %d declares %d bytes", record.ErrMalformedRecord, s.gen, s.next, total)
		return false
	}
	if total > remaining {
		s.err = truncated(s.gen, s.next, total, remaining)
		return false
	}

	frame := make([]byte, total)
	copy(frame, prefix[:])
	if _, err := io.ReadFull(s.reader, frame[record.HeaderSize:]); err != nil {
		s.err = fmt.Errorf("failed to read generation %d at offset %d: %w", s.gen, s.next, err)
		return false
	}

	s.offset = s.next
	s.frame = frame
	s.next += total
	return true
}

// Frame returns the raw bytes of the current frame.
func (s *Scanner) Frame() []byte {
	return s.frame
}

// Offset returns the starting offset of the current frame.
func (s *Scanner) Offset() uint64 {
	return s.offset
}

// Generation returns the generation being scanned.
func (s *Scanner) Generation() uint64 {
	return s.gen
}

// Size returns the file size observed when the scanner was opened.
func (s *Scanner) Size() uint64 {
	return s.size
}

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Close releases the file.
func (s *Scanner) Close() error {
	return s.file.Close()
}
