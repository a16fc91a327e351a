package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/schedule"
	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/model"
)

func seedAutoSave(t *testing.T, kv storage.KV, snap model.FormSnapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if err := kv.Set(context.Background(), storage.KeyAutoSave, data); err != nil {
		t.Fatalf("seed auto-save: %v", err)
	}
}

func newService(t *testing.T, kv storage.KV) (*Service, *formstate.Store) {
	t.Helper()
	store := formstate.New(kv, zap.NewNop())
	saver := autosave.New(store, kv, schedule.NewManual(), autosave.Config{
		Debounce: time.Second,
		Interval: 30 * time.Second,
	}, zap.NewNop())
	saver.Start()
	t.Cleanup(saver.Stop)
	return New(store, saver, zap.NewNop()), store
}

func TestPrompt_NothingSaved(t *testing.T) {
	svc, _ := newService(t, storage.NewMemoryKV(0))
	if p := svc.Prompt(); p.Available {
		t.Errorf("Prompt = %+v, want unavailable", p)
	}
}

func TestPrompt_DescribesSnapshot(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	savedAt := time.Date(2026, 4, 10, 14, 30, 0, 0, time.UTC)
	seedAutoSave(t, kv, model.FormSnapshot{
		Version:     model.SnapshotVersion,
		Timestamp:   savedAt,
		FormData:    map[string]any{"nome": "Ana", "destino": "Lisboa"},
		CurrentPage: 3,
	})

	svc, _ := newService(t, kv)
	p := svc.Prompt()
	if !p.Available {
		t.Fatal("Available = false")
	}
	if !p.SavedAt.Equal(savedAt) {
		t.Errorf("SavedAt = %v, want %v", p.SavedAt, savedAt)
	}
	if p.CurrentPage != 3 {
		t.Errorf("CurrentPage = %d, want 3", p.CurrentPage)
	}
	if p.FieldCount != 2 {
		t.Errorf("FieldCount = %d, want 2", p.FieldCount)
	}
}

func TestResume_AppliesStateAndConsumesPrompt(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	seedAutoSave(t, kv, model.FormSnapshot{
		Version:      model.SnapshotVersion,
		Timestamp:    time.Now(),
		FormData:     map[string]any{"nome": "Ana"},
		CurrentPage:  2,
		VisitedPages: []int{1, 2},
	})

	svc, store := newService(t, kv)
	token := store.SubmissionToken()

	if err := svc.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	snap := store.Snapshot()
	if snap.FormData["nome"] != "Ana" {
		t.Errorf("FormData = %v", snap.FormData)
	}
	if snap.CurrentPage != 2 {
		t.Errorf("CurrentPage = %d, want 2", snap.CurrentPage)
	}
	if snap.SubmissionToken != token {
		t.Errorf("token = %q after resume, want unchanged %q", snap.SubmissionToken, token)
	}
	if svc.Prompt().Available {
		t.Error("prompt still available after resume")
	}
}

func TestResume_NothingToRecover(t *testing.T) {
	svc, _ := newService(t, storage.NewMemoryKV(0))
	if err := svc.Resume(); !errors.Is(err, ErrNothingToRecover) {
		t.Errorf("Resume error = %v, want ErrNothingToRecover", err)
	}
}

func TestDiscard_KeepsLiveStateDropsSnapshot(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	seedAutoSave(t, kv, model.FormSnapshot{
		Version:     model.SnapshotVersion,
		Timestamp:   time.Now(),
		FormData:    map[string]any{"nome": "velho"},
		CurrentPage: 4,
	})

	svc, store := newService(t, kv)
	store.UpdateFormData(map[string]any{"nome": "Ana"})

	if err := svc.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	if got := store.Snapshot().FormData["nome"]; got != "Ana" {
		t.Errorf("FormData[nome] = %v, want live state untouched", got)
	}
	if _, found, _ := kv.Get(context.Background(), storage.KeyAutoSave); found {
		t.Error("auto-save key still present after discard")
	}
	if svc.Prompt().Available {
		t.Error("prompt still available after discard")
	}
}

func TestDiscard_NothingToRecover(t *testing.T) {
	svc, _ := newService(t, storage.NewMemoryKV(0))
	if err := svc.Discard(); !errors.Is(err, ErrNothingToRecover) {
		t.Errorf("Discard error = %v, want ErrNothingToRecover", err)
	}
}
