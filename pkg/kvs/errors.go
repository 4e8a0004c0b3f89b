package kvs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-kvs/pkg/index"
	"github.com/dd0wney/cluso-kvs/pkg/record"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

// Sentinel errors. Match them with errors.Is; the engine usually returns
// them wrapped in an *Error that carries the failing key or location.
var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrCorruptLog   = errors.New("corrupt log")
	ErrCorruptIndex = errors.New("index points at a record that does not match")
	ErrClosed       = errors.New("engine is closed")

	ErrMalformedRecord = record.ErrMalformedRecord
	ErrTruncatedRecord = segment.ErrTruncatedRecord
)

// Error describes a failed engine operation.
type Error struct {
	Op         string // "open", "set", "get", "remove", "compact", ...
	Key        []byte
	Generation uint64
	Offset     uint64
	located    bool
	Kind       error // one of the sentinels, or nil for plain I/O failures
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("kvs: ")
	b.WriteString(e.Op)
	if e.Key != nil {
		b.WriteString(" key ")
		b.WriteString(strconv.Quote(string(e.Key)))
	}
	if e.located {
		fmt.Fprintf(&b, " at generation %d offset %d", e.Generation, e.Offset)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the error's kind; causes are matched through Unwrap.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// errorBuilder is a fluent constructor for *Error.
type errorBuilder struct {
	err Error
}

func newError(op string) *errorBuilder {
	return &errorBuilder{err: Error{Op: op}}
}

func (b *errorBuilder) Key(key []byte) *errorBuilder {
	b.err.Key = append([]byte{}, key...)
	return b
}

func (b *errorBuilder) At(gen, offset uint64) *errorBuilder {
	b.err.Generation = gen
	b.err.Offset = offset
	b.err.located = true
	return b
}

func (b *errorBuilder) Pointer(ptr index.LogPointer) *errorBuilder {
	return b.At(ptr.Generation, ptr.Offset)
}

func (b *errorBuilder) Kind(kind error) *errorBuilder {
	b.err.Kind = kind
	return b
}

func (b *errorBuilder) Cause(err error) *errorBuilder {
	b.err.Cause = err
	return b
}

func (b *errorBuilder) Err() error {
	return &b.err
}

// isCorruption reports whether err came from decoding log bytes rather than
// from the operating system.
func isCorruption(err error) bool {
	return errors.Is(err, record.ErrMalformedRecord) || errors.Is(err, segment.ErrTruncatedRecord)
}
