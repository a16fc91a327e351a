// Package autosave keeps durable storage synchronized with the form state
// store without excessive write volume: a debounced save after each burst
// of edits, an interval save bounding worst-case staleness, and a final
// flush on shutdown.
package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/schedule"
	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/model"
)

// Config holds the scheduler timers.
type Config struct {
	// Debounce restarts on every form mutation; only the last mutation in
	// a burst is persisted.
	Debounce time.Duration
	// Interval forces a save regardless of debounce state.
	Interval time.Duration
}

// Option configures optional dependencies.
type Option func(*Scheduler)

// WithMetrics records save counts and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNotify sets a hook invoked with the error when a save fails. Save
// failures are non-fatal: the hook is for surfacing a user notification,
// never for aborting the editing flow.
func WithNotify(fn func(error)) Option {
	return func(s *Scheduler) { s.notify = fn }
}

// Scheduler persists snapshots of the form state store to the auto-save
// storage key.
type Scheduler struct {
	mu sync.Mutex

	store   *formstate.Store
	kv      storage.KV
	sched   schedule.Scheduler
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	notify  func(error)

	debounceTask schedule.Task
	intervalTask schedule.Task
	unsubscribe  func()
	stopped      bool

	recoverable bool
	recovered   model.FormSnapshot
}

// New creates a Scheduler. Call Start to begin saving.
func New(store *formstate.Store, kv storage.KV, sched schedule.Scheduler, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		kv:     kv,
		sched:  sched,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the startup recovery check, subscribes to store mutations, and
// starts the interval timer. The recovery check is read-only: it flags
// recoverable data for the recovery flow but does not touch the store.
func (s *Scheduler) Start() {
	s.checkRecoverable()

	var initial atomic.Bool
	initial.Store(true)
	s.unsubscribe = s.store.Subscribe(func(formstate.State) {
		// The subscription's immediate snapshot is not an edit. Mutations
		// may already be arriving from other goroutines, so the skip is a
		// single atomic swap.
		if initial.CompareAndSwap(true, false) {
			return
		}
		s.onChange()
	})

	s.mu.Lock()
	s.intervalTask = s.sched.After(s.cfg.Interval, s.intervalTick)
	s.mu.Unlock()
}

// Stop cancels timers, detaches from the store, and performs a final
// best-effort flush, the agent's equivalent of the unload save.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.debounceTask != nil {
		s.debounceTask.Cancel()
	}
	if s.intervalTask != nil {
		s.intervalTask.Cancel()
	}
	unsub := s.unsubscribe
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.save("flush")
}

// ManualSave persists a snapshot immediately and reports success, so
// callers can react to a failing save.
func (s *Scheduler) ManualSave() bool {
	return s.save("manual")
}

// ClearAutoSave removes the persisted snapshot and drops the recoverable
// flag.
func (s *Scheduler) ClearAutoSave() error {
	s.mu.Lock()
	s.recoverable = false
	s.recovered = model.FormSnapshot{}
	s.mu.Unlock()

	return s.kv.Delete(context.Background(), storage.KeyAutoSave)
}

// Recoverable reports whether the startup check found an auto-saved
// snapshot worth offering to the user.
func (s *Scheduler) Recoverable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoverable
}

// RecoveredSnapshot returns the snapshot found at startup, if any.
func (s *Scheduler) RecoveredSnapshot() (model.FormSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered, s.recoverable
}

// --- internals ---

// onChange restarts the debounce timer; only the last edit in a burst
// reaches storage.
func (s *Scheduler) onChange() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.debounceTask != nil {
		s.debounceTask.Cancel()
	}
	s.debounceTask = s.sched.After(s.cfg.Debounce, func() {
		s.save("debounce")
	})
}

// intervalTick saves and reschedules itself.
func (s *Scheduler) intervalTick() {
	s.save("interval")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.intervalTask = s.sched.After(s.cfg.Interval, s.intervalTick)
}

// save writes the current snapshot envelope. Failures are logged, counted,
// and surfaced through the notify hook; they never propagate.
func (s *Scheduler) save(trigger string) bool {
	snap := s.store.FormSnapshot(time.Now().UTC())

	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("auto-save marshal failed", zap.Error(err))
		return false
	}

	if err := s.kv.Set(context.Background(), storage.KeyAutoSave, data); err != nil {
		if s.metrics != nil {
			s.metrics.AutoSaveFailuresTotal.Inc()
		}
		if err == storage.ErrQuotaExceeded {
			s.logger.Warn("auto-save hit storage quota", zap.String("trigger", trigger))
		} else {
			s.logger.Error("auto-save write failed", zap.String("trigger", trigger), zap.Error(err))
		}
		if s.notify != nil {
			s.notify(err)
		}
		return false
	}

	if s.metrics != nil {
		s.metrics.AutoSaveWritesTotal.WithLabelValues(trigger).Inc()
	}
	s.logger.Debug("auto-save written", zap.String("trigger", trigger))
	return true
}

// checkRecoverable reads the saved envelope and flags recoverable data.
// Malformed or version-mismatched snapshots are treated as absent.
func (s *Scheduler) checkRecoverable() {
	data, found, err := s.kv.Get(context.Background(), storage.KeyAutoSave)
	if err != nil {
		s.logger.Warn("auto-save startup read failed", zap.Error(err))
		return
	}
	if !found {
		return
	}

	var snap model.FormSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("auto-save snapshot malformed, ignoring", zap.Error(err))
		return
	}
	if snap.Version != model.SnapshotVersion {
		s.logger.Warn("auto-save snapshot version mismatch, ignoring",
			zap.String("got", snap.Version),
			zap.String("want", model.SnapshotVersion),
		)
		return
	}
	if !snap.HasFormData() {
		return
	}

	s.mu.Lock()
	s.recoverable = true
	s.recovered = snap
	s.mu.Unlock()

	s.logger.Info("recoverable auto-saved form data found",
		zap.Time("saved_at", snap.Timestamp),
		zap.Int("current_page", snap.CurrentPage),
	)
}
