// Package store defines the capability shared by every key-value backend
// the kvs command can drive, plus an in-memory reference backend.
package store

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-kvs/pkg/kvs"
)

// Store is a byte-keyed key-value store.
type Store interface {
	// Set stores value under key.
	Set(key, value []byte) error
	// Get returns the value for key; found is false when key is absent.
	Get(key []byte) (value []byte, found bool, err error)
	// Remove deletes key, or returns an error matching kvs.ErrKeyNotFound.
	Remove(key []byte) error
	Close() error
}

var (
	_ Store = (*kvs.Engine)(nil)
	_ Store = (*MemStore)(nil)
)

// MemStore keeps everything in a map. Nothing survives Close.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return kvs.ErrClosed
	}
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *MemStore) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, kvs.ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (m *MemStore) Remove(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return kvs.ErrClosed
	}
	if _, ok := m.data[string(key)]; !ok {
		return fmt.Errorf("memstore remove %q: %w", key, kvs.ErrKeyNotFound)
	}
	delete(m.data, string(key))
	return nil
}

// Len returns the number of keys.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
