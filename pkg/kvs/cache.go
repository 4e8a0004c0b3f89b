package kvs

import (
	lru "github.com/hashicorp/golang-lru"
)

// valueCache is an LRU of recently read values. A nil *valueCache is a
// disabled cache: lookups miss and updates are ignored.
type valueCache struct {
	lru *lru.Cache
}

func newValueCache(capacity int) *valueCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil
	}
	return &valueCache{lru: c}
}

// get returns a copy of the cached value for key.
func (c *valueCache) get(key []byte) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(string(key))
	if !ok {
		return nil, false
	}
	return append([]byte{}, v.([]byte)...), true
}

// put stores a private copy of value.
func (c *valueCache) put(key, value []byte) {
	if c == nil {
		return
	}
	c.lru.Add(string(key), append([]byte{}, value...))
}

func (c *valueCache) invalidate(key []byte) {
	if c == nil {
		return
	}
	c.lru.Remove(string(key))
}

func (c *valueCache) clear() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *valueCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
