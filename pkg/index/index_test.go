package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_InsertLookup(t *testing.T) {
	idx := New()

	_, ok := idx.Lookup([]byte("missing"))
	assert.False(t, ok)

	first := LogPointer{Generation: 0, Offset: 0, Length: 31}
	old, replaced := idx.Insert([]byte("foo"), first)
	assert.False(t, replaced)
	assert.Equal(t, LogPointer{}, old)

	second := LogPointer{Generation: 0, Offset: 31, Length: 31}
	old, replaced = idx.Insert([]byte("foo"), second)
	require.True(t, replaced)
	assert.Equal(t, first, old)

	got, ok := idx.Lookup([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_Remove(t *testing.T) {
	idx := New()
	ptr := LogPointer{Generation: 2, Offset: 10, Length: 20}
	idx.Insert([]byte("k"), ptr)

	old, existed := idx.Remove([]byte("k"))
	assert.True(t, existed)
	assert.Equal(t, ptr, old)
	assert.Equal(t, 0, idx.Len())

	_, existed = idx.Remove([]byte("k"))
	assert.False(t, existed)
}

func TestIndex_KeyIsCopied(t *testing.T) {
	idx := New()
	key := []byte("abc")
	idx.Insert(key, LogPointer{Length: 1})
	key[0] = 'x'

	_, ok := idx.Lookup([]byte("abc"))
	assert.True(t, ok, "mutating the caller's slice must not affect the index")
}

func TestIndex_Retarget(t *testing.T) {
	idx := New()
	a := LogPointer{Generation: 0, Offset: 0, Length: 25}
	b := LogPointer{Generation: 3, Offset: 0, Length: 25}
	c := LogPointer{Generation: 0, Offset: 25, Length: 25}

	idx.Insert([]byte("k"), a)

	assert.False(t, idx.Retarget([]byte("k"), c, b), "stale expectation must not swap")
	assert.True(t, idx.Retarget([]byte("k"), a, b))

	got, _ := idx.Lookup([]byte("k"))
	assert.Equal(t, b, got)

	assert.False(t, idx.Retarget([]byte("absent"), a, b))
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_SnapshotOrder(t *testing.T) {
	idx := New()
	idx.Insert([]byte("c"), LogPointer{Generation: 1, Offset: 50, Length: 5})
	idx.Insert([]byte("a"), LogPointer{Generation: 0, Offset: 90, Length: 7})
	idx.Insert([]byte("b"), LogPointer{Generation: 1, Offset: 0, Length: 9})

	snap := idx.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].Key, snap[1].Key, snap[2].Key})
	assert.Equal(t, uint64(21), idx.LiveBytes())
}

func TestIndex_RangeStops(t *testing.T) {
	idx := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		idx.Insert([]byte(k), LogPointer{Length: 1})
	}

	visited := 0
	idx.Range(func(string, LogPointer) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestLogPointer_String(t *testing.T) {
	assert.Equal(t, "3:128+31", LogPointer{Generation: 3, Offset: 128, Length: 31}.String())
}
