// Package index holds the in-memory map from live keys to the location of
// their latest Set record on disk.
package index

import (
	"fmt"
	"sort"
)

// LogPointer addresses one encoded record: the generation file it lives in,
// the byte offset where the frame starts and the frame's length.
type LogPointer struct {
	Generation uint64
	Offset     uint64
	Length     uint64
}

// String renders the pointer as gen:offset+length.
func (p LogPointer) String() string {
	return fmt.Sprintf("%d:%d+%d", p.Generation, p.Offset, p.Length)
}

// Less orders pointers by generation, then offset.
func (p LogPointer) Less(o LogPointer) bool {
	if p.Generation != o.Generation {
		return p.Generation < o.Generation
	}
	return p.Offset < o.Offset
}

// Index maps keys to the pointer of their most recent Set. It never holds
// values and performs no I/O.
//
// Index is not safe for concurrent use; callers serialize access.
type Index struct {
	entries map[string]LogPointer
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]LogPointer)}
}

// Insert points key at ptr and returns the pointer it replaced, if any.
func (idx *Index) Insert(key []byte, ptr LogPointer) (LogPointer, bool) {
	old, replaced := idx.entries[string(key)]
	idx.entries[string(key)] = ptr
	return old, replaced
}

// Remove deletes key and returns the pointer it had, if any.
func (idx *Index) Remove(key []byte) (LogPointer, bool) {
	old, existed := idx.entries[string(key)]
	if existed {
		delete(idx.entries, string(key))
	}
	return old, existed
}

// Lookup returns the pointer for key.
func (idx *Index) Lookup(key []byte) (LogPointer, bool) {
	ptr, ok := idx.entries[string(key)]
	return ptr, ok
}

// Retarget moves key to ptr only if it still points at expected.
func (idx *Index) Retarget(key []byte, expected, ptr LogPointer) bool {
	cur, ok := idx.entries[string(key)]
	if !ok || cur != expected {
		return false
	}
	idx.entries[string(key)] = ptr
	return true
}

// Len returns the number of live keys.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// LiveBytes sums the frame lengths of every indexed record.
func (idx *Index) LiveBytes() uint64 {
	var total uint64
	for _, ptr := range idx.entries {
		total += ptr.Length
	}
	return total
}

// Range calls fn for every entry until fn returns false. Iteration order is
// unspecified. fn must not modify the index.
func (idx *Index) Range(fn func(key string, ptr LogPointer) bool) {
	for k, ptr := range idx.entries {
		if !fn(k, ptr) {
			return
		}
	}
}

// Entry is one key and its pointer.
type Entry struct {
	Key     string
	Pointer LogPointer
}

// Snapshot returns every entry sorted by on-disk position, which turns a
// copy of all live records into a sequential read.
func (idx *Index) Snapshot() []Entry {
	out := make([]Entry, 0, len(idx.entries))
	for k, ptr := range idx.entries {
		out = append(out, Entry{Key: k, Pointer: ptr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pointer.Less(out[j].Pointer) })
	return out
}
