package state

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	version   uint64
	expiresAt time.Time
}

// MemoryStore is an in-process Store. It backs single-node runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	keyPrefix string
	version   uint64
	now       func() time.Time
}

func NewMemoryStore(keyPrefix string) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup returns the live entry for key. Callers hold mu.
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[m.keyPrefix+key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, m.keyPrefix+key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	m.version++
	e := memoryEntry{
		value:   append([]byte(nil), value...),
		version: m.version,
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[m.keyPrefix+key] = e
}

func (m *MemoryStore) Get(_ context.Context, key string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	return Item{
		Value: append([]byte(nil), e.value...),
		ETag:  strconv.FormatUint(e.version, 10),
	}, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryStore) SetIfMatch(_ context.Context, key string, value []byte, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	switch {
	case etag == "" && ok:
		return ErrConflict
	case etag != "" && (!ok || strconv.FormatUint(e.version, 10) != etag):
		return ErrConflict
	}
	m.put(key, value, 0)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, m.keyPrefix+key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
