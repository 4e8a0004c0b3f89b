package kvs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueCache_LRUEviction(t *testing.T) {
	c := newValueCache(2)

	c.put([]byte("a"), []byte("1"))
	c.put([]byte("b"), []byte("2"))
	c.get([]byte("a")) // a is now most recent
	c.put([]byte("c"), []byte("3"))

	_, ok := c.get([]byte("b"))
	assert.False(t, ok, "b should be evicted")
	v, ok := c.get([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.len())
}

func TestValueCache_UpdateAndInvalidate(t *testing.T) {
	c := newValueCache(4)
	c.put([]byte("k"), []byte("old"))
	c.put([]byte("k"), []byte("new"))

	v, _ := c.get([]byte("k"))
	assert.Equal(t, []byte("new"), v)
	assert.Equal(t, 1, c.len())

	c.invalidate([]byte("k"))
	_, ok := c.get([]byte("k"))
	assert.False(t, ok)

	c.put([]byte("x"), []byte("1"))
	c.clear()
	assert.Equal(t, 0, c.len())
}

func TestValueCache_Disabled(t *testing.T) {
	c := newValueCache(0)
	assert.Nil(t, c)

	c.put([]byte("k"), []byte("v"))
	_, ok := c.get([]byte("k"))
	assert.False(t, ok)
	c.invalidate([]byte("k"))
	c.clear()
	assert.Equal(t, 0, c.len())
}
