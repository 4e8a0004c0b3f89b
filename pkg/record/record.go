// Package record implements the binary frame format of a single log record.
//
// Frame layout (all integers big-endian, fixed 8 bytes):
//
//	[ total_length ][ type_tag:1 ][ key_length ][ key ]
//	Set only:                     [ value_length ][ value ]
//
// total_length covers the entire frame including itself, so a reader can
// consume one frame without look-ahead.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type is the one-byte tag that distinguishes record variants.
type Type uint8

const (
	TypeSet    Type = 0
	TypeRemove Type = 1
)

// String returns the name of the record type
func (t Type) String() string {
	switch t {
	case TypeSet:
		return "set"
	case TypeRemove:
		return "remove"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	lengthSize = 8
	tagSize    = 1

	// HeaderSize is the fixed prefix shared by every frame:
	// total_length + type_tag + key_length.
	HeaderSize = lengthSize + tagSize + lengthSize

	// MinSetSize is the size of a Set frame with an empty key and value.
	MinSetSize = HeaderSize + lengthSize
)

// ErrMalformedRecord is returned when a frame's embedded lengths do not fit
// the buffer holding it.
var ErrMalformedRecord = errors.New("malformed record")

// Record is one entry of the log: a Set of key to value, or a Remove of key.
type Record struct {
	Type  Type
	Key   []byte
	Value []byte // nil for Remove
}

// Set builds a Set record.
func Set(key, value []byte) Record {
	return Record{Type: TypeSet, Key: key, Value: value}
}

// Remove builds a Remove record.
func Remove(key []byte) Record {
	return Record{Type: TypeRemove, Key: key}
}

// IsSet reports whether r is a Set record
func (r Record) IsSet() bool {
	return r.Type == TypeSet
}

// EncodedLen returns the size of r's frame without encoding it.
func EncodedLen(r Record) uint64 {
	n := uint64(HeaderSize) + uint64(len(r.Key))
	if r.Type == TypeSet {
		n += lengthSize + uint64(len(r.Value))
	}
	return n
}

// Encode serializes r into a new frame.
func Encode(r Record) []byte {
	return AppendEncode(make([]byte, 0, EncodedLen(r)), r)
}

// AppendEncode appends the frame for r to dst and returns the extended
// slice.
func AppendEncode(dst []byte, r Record) []byte {
	dst = binary.BigEndian.AppendUint64(dst, EncodedLen(r))
	dst = append(dst, byte(r.Type))
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(r.Key)))
	dst = append(dst, r.Key...)
	if r.Type == TypeSet {
		dst = binary.BigEndian.AppendUint64(dst, uint64(len(r.Value)))
		dst = append(dst, r.Value...)
	}
	return dst
}

// Decode parses one frame. Every embedded length is checked against the
// buffer before slicing; violations return ErrMalformedRecord.
// The returned key and value are copies and do not alias data.
func Decode(data []byte) (Record, error) {
	if len(data) < HeaderSize {
		return Record{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedRecord, len(data), HeaderSize)
	}

	total := binary.BigEndian.Uint64(data)
	if total < HeaderSize || total > uint64(len(data)) {
		return Record{}, fmt.Errorf("%w: declared length %d, buffer holds %d", ErrMalformedRecord, total, len(data))
	}
	frame := data[:total]
	pos := uint64(lengthSize)

	typ := Type(frame[pos])
	pos += tagSize
	if typ != TypeSet && typ != TypeRemove {
		return Record{}, fmt.Errorf("%w: unknown type tag %d", ErrMalformedRecord, uint8(typ))
	}

	key, pos, err := readBlock(frame, pos, "key")
	if err != nil {
		return Record{}, err
	}

	rec := Record{Type: typ, Key: key}
	if typ == TypeSet {
		rec.Value, pos, err = readBlock(frame, pos, "value")
		if err != nil {
			return Record{}, err
		}
	}

	if pos != total {
		return Record{}, fmt.Errorf("%w: %d trailing bytes inside frame", ErrMalformedRecord, total-pos)
	}
	return rec, nil
}

// readBlock reads a u64 length followed by that many bytes, starting at pos.
func readBlock(frame []byte, pos uint64, what string) ([]byte, uint64, error) {
	size := uint64(len(frame))
	if size-pos < lengthSize {
		return nil, 0, fmt.Errorf("%w: missing %s length", ErrMalformedRecord, what)
	}
	n := binary.BigEndian.Uint64(frame[pos:])
	pos += lengthSize
	if n > size-pos {
		return nil, 0, fmt.Errorf("%w: %s length %d exceeds frame by %d bytes", ErrMalformedRecord, what, n, n-(size-pos))
	}
	out := make([]byte, n)
	copy(out, frame[pos:pos+n])
	return out, pos + n, nil
}

// FrameLength returns the total_length declared by a frame header.
func FrameLength(header []byte) (uint64, error) {
	if len(header) < lengthSize {
		return 0, fmt.Errorf("%w: %d bytes is too short for a length prefix", ErrMalformedRecord, len(header))
	}
	return binary.BigEndian.Uint64(header), nil
}

// ReadFrame reads exactly one frame from r using its length prefix.
// Frames declaring more than maxSize bytes are rejected before allocation.
// It returns io.EOF only when r is exhausted at a frame boundary.
func ReadFrame(r io.Reader, maxSize uint64) ([]byte, error) {
	var prefix [lengthSize]byte
	n, err := io.ReadFull(r, prefix[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: partial length prefix (%d bytes): %w", ErrMalformedRecord, n, err)
	}

	total := binary.BigEndian.Uint64(prefix[:])
	if total < HeaderSize {
		return nil, fmt.Errorf("%w: declared length %d is below the %d byte header", ErrMalformedRecord, total, HeaderSize)
	}
	if total > maxSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit %d", ErrMalformedRecord, total, maxSize)
	}

	frame := make([]byte, total)
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[lengthSize:]); err != nil {
		return nil, fmt.Errorf("%w: frame of %d bytes cut short: %w", ErrMalformedRecord, total, err)
	}
	return frame, nil
}
