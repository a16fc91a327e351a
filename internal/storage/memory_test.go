package storage

import (
	"context"
	"testing"
)

func TestMemoryKV_GetMissing(t *testing.T) {
	kv := NewMemoryKV(0)

	v, found, err := kv.Get(context.Background(), KeyAutoSave)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if v != nil {
		t.Errorf("value = %v, want nil", v)
	}
}

func TestMemoryKV_SetAndGet(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()

	if err := kv.Set(ctx, KeyAutoSave, []byte(`{"version":"1.0"}`)); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	v, found, err := kv.Get(ctx, KeyAutoSave)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if string(v) != `{"version":"1.0"}` {
		t.Errorf("value = %q", v)
	}
}

func TestMemoryKV_GetReturnsCopy(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()

	_ = kv.Set(ctx, KeyAutoSave, []byte("original"))
	v, _, _ := kv.Get(ctx, KeyAutoSave)
	v[0] = 'X'

	v2, _, _ := kv.Get(ctx, KeyAutoSave)
	if string(v2) != "original" {
		t.Errorf("stored value mutated through returned slice: %q", v2)
	}
}

func TestMemoryKV_Delete(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()

	_ = kv.Set(ctx, KeySubmissionQueue, []byte("[]"))
	if err := kv.Delete(ctx, KeySubmissionQueue); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	_, found, _ := kv.Get(ctx, KeySubmissionQueue)
	if found {
		t.Error("found = true after Delete")
	}

	// Deleting again is a no-op.
	if err := kv.Delete(ctx, KeySubmissionQueue); err != nil {
		t.Errorf("second Delete error: %v", err)
	}
}

func TestMemoryKV_QuotaExceeded(t *testing.T) {
	kv := NewMemoryKV(10)
	ctx := context.Background()

	if err := kv.Set(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	err := kv.Set(ctx, "b", []byte("1234567890"))
	if err != ErrQuotaExceeded {
		t.Errorf("Set error = %v, want ErrQuotaExceeded", err)
	}

	// The failed write must not be partially applied.
	_, found, _ := kv.Get(ctx, "b")
	if found {
		t.Error("rejected key was stored")
	}
}

func TestMemoryKV_QuotaCountsReplacement(t *testing.T) {
	kv := NewMemoryKV(10)
	ctx := context.Background()

	_ = kv.Set(ctx, "a", []byte("1234567890"))

	// Replacing a key frees its old size first.
	if err := kv.Set(ctx, "a", []byte("abcde")); err != nil {
		t.Errorf("replacement Set error: %v", err)
	}
	if err := kv.Set(ctx, "b", []byte("12345")); err != nil {
		t.Errorf("Set after shrink error: %v", err)
	}
}

func TestMemoryKV_QuotaFreedByDelete(t *testing.T) {
	kv := NewMemoryKV(10)
	ctx := context.Background()

	_ = kv.Set(ctx, "a", []byte("1234567890"))
	_ = kv.Delete(ctx, "a")

	if err := kv.Set(ctx, "b", []byte("1234567890")); err != nil {
		t.Errorf("Set after Delete error: %v", err)
	}
}

func TestMemoryKV_Len(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()

	if kv.Len() != 0 {
		t.Errorf("Len() = %d, want 0", kv.Len())
	}
	_ = kv.Set(ctx, KeyFormState, []byte("{}"))
	_ = kv.Set(ctx, KeyAutoSave, []byte("{}"))
	if kv.Len() != 2 {
		t.Errorf("Len() = %d, want 2", kv.Len())
	}
}
