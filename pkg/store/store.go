// Package store is the key-based persistence boundary of the trading core.
//
// The core only relies on two properties of a backend: insert with a
// uniqueness guarantee (duplicate-pick prevention) and plain put/get
// (ledger updates, subscription registry, audit spill). Anything providing
// those can back the ledger; Badger is the default durable implementation
// and the in-memory store backs tests and dry runs.
package store

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("store: key already exists")
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("store: key not found")
)

// Store is a minimal key/value interface with an atomic unique insert.
type Store interface {
	// Insert writes value under key only if the key does not exist.
	// Returns ErrExists otherwise. The check and write are atomic.
	Insert(key string, value []byte) error

	// Put writes value under key, overwriting any existing value.
	Put(key string, value []byte) error

	// Get reads the value under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// ForEach visits every key with the given prefix. Iteration stops if
	// fn returns an error.
	ForEach(prefix string, fn func(key string, value []byte) error) error

	Close() error
}

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Insert(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return ErrExists
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) ForEach(prefix string, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			snapshot[k] = v
		}
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
