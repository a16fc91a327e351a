package storage

import (
	"context"
	"sync"
)

// MemoryKV is an in-memory KV with an optional byte quota. Suitable for
// tests and ephemeral sessions where durability across restarts is not
// required.
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int64
	used  int64
}

// NewMemoryKV creates an in-memory store. quota <= 0 disables the limit.
func NewMemoryKV(quota int64) *MemoryKV {
	return &MemoryKV{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns the value for key, or found=false.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set stores value under key, enforcing the quota against the total size of
// all values after the write.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used - int64(len(m.data[key])) + int64(len(value))
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	m.used = next
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= int64(len(m.data[key]))
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys. For testing.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
