package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV is a file-backed KV that stores one file per key under a state
// directory. This is the default driver: it is the agent's equivalent of the
// browser's local storage, durable across restarts and capacity-limited.
//
// Writes go through a temp file and rename so a crash mid-write never leaves
// a truncated value behind.
type FileKV struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewFileKV creates a file-backed store rooted at dir, creating the
// directory if needed. quota <= 0 disables the limit.
func NewFileKV(dir string, quota int64) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating state dir %s: %w", dir, err)
	}
	return &FileKV{dir: dir, quota: quota}, nil
}

// Get returns the value for key, or found=false if no file exists.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: reading %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores value under key, enforcing the quota against the total size of
// all stored values after the write.
func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.quota > 0 {
		used, err := f.usedExcluding(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return ErrQuotaExceeded
		}
	}

	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, f.path(key)); err != nil {
		return fmt.Errorf("storage: committing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (f *FileKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}

// path maps a key to its backing file. Keys are the fixed constants above,
// so no escaping is needed.
func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// usedExcluding sums the sizes of all stored values except key's current
// value. Must be called with the lock held.
func (f *FileKV) usedExcluding(key string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("storage: listing state dir: %w", err)
	}

	var used int64
	skip := key + ".json"
	for _, e := range entries {
		if e.IsDir() || e.Name() == skip || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}
