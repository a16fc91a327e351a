package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestFileKV(t *testing.T, quota int64) *FileKV {
	t.Helper()
	kv, err := NewFileKV(t.TempDir(), quota)
	if err != nil {
		t.Fatalf("NewFileKV error: %v", err)
	}
	return kv
}

func TestFileKV_GetMissing(t *testing.T) {
	kv := newTestFileKV(t, 0)

	_, found, err := kv.Get(context.Background(), KeyFormState)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestFileKV_SetAndGet(t *testing.T) {
	kv := newTestFileKV(t, 0)
	ctx := context.Background()

	if err := kv.Set(ctx, KeyFormState, []byte(`{"current_page":2}`)); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	v, found, err := kv.Get(ctx, KeyFormState)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if string(v) != `{"current_page":2}` {
		t.Errorf("value = %q", v)
	}
}

func TestFileKV_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	kv, err := NewFileKV(dir, 0)
	if err != nil {
		t.Fatalf("NewFileKV error: %v", err)
	}
	if err := kv.Set(ctx, KeyAutoSave, []byte("snapshot")); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	// A new instance over the same directory sees the value: this is what
	// lets a reloaded session restore its state.
	kv2, err := NewFileKV(dir, 0)
	if err != nil {
		t.Fatalf("NewFileKV (reopen) error: %v", err)
	}
	v, found, err := kv2.Get(ctx, KeyAutoSave)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !found {
		t.Fatal("found = false after reopen")
	}
	if string(v) != "snapshot" {
		t.Errorf("value = %q, want %q", v, "snapshot")
	}
}

func TestFileKV_Delete(t *testing.T) {
	kv := newTestFileKV(t, 0)
	ctx := context.Background()

	_ = kv.Set(ctx, KeySubmissionQueue, []byte("[]"))
	if err := kv.Delete(ctx, KeySubmissionQueue); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_, found, _ := kv.Get(ctx, KeySubmissionQueue)
	if found {
		t.Error("found = true after Delete")
	}
	if err := kv.Delete(ctx, KeySubmissionQueue); err != nil {
		t.Errorf("Delete of missing key error: %v", err)
	}
}

func TestFileKV_QuotaExceeded(t *testing.T) {
	kv := newTestFileKV(t, 16)
	ctx := context.Background()

	if err := kv.Set(ctx, "a", []byte("0123456789")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	err := kv.Set(ctx, "b", []byte("0123456789"))
	if err != ErrQuotaExceeded {
		t.Errorf("Set error = %v, want ErrQuotaExceeded", err)
	}

	// Replacing an existing key does not double-count its old size.
	if err := kv.Set(ctx, "a", []byte("0123456789abcdef")); err != nil {
		t.Errorf("replacement Set error: %v", err)
	}
}

func TestFileKV_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir, 0)
	if err != nil {
		t.Fatalf("NewFileKV error: %v", err)
	}
	_ = kv.Set(context.Background(), KeyFormState, []byte("{}"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
