// Package formstate holds the single source of truth for in-progress wizard
// data: form fields, navigation, uploaded-file references, and the
// submission idempotency token.
package formstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/model"
)

// State is the consistent snapshot handed to subscribers and API consumers.
type State struct {
	FormData        map[string]any                  `json:"form_data"`
	CurrentPage     int                             `json:"current_page"`
	VisitedPages    []int                           `json:"visited_pages"`
	UploadedFiles   map[string][]model.UploadedFile `json:"uploaded_files"`
	SubmissionToken string                          `json:"submission_token,omitempty"`
}

// persistedState is the durable form of the store, including the token.
// Persisting the token is what keeps an in-flight submission's idempotency
// key stable across a reload: a restart must never silently mint a new key.
type persistedState struct {
	Version         string                          `json:"version"`
	Timestamp       time.Time                       `json:"timestamp"`
	FormData        map[string]any                  `json:"form_data"`
	CurrentPage     int                             `json:"current_page"`
	VisitedPages    []int                           `json:"visited_pages"`
	UploadedFiles   map[string][]model.UploadedFile `json:"uploaded_files"`
	SubmissionToken string                          `json:"submission_token,omitempty"`
}

// Store is an observable state container. Every mutation persists the full
// state to its own storage key and synchronously notifies subscribers with
// a consistent snapshot. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	kv     storage.KV
	logger *zap.Logger

	formData      map[string]any
	currentPage   int
	visitedPages  []int
	uploadedFiles map[string][]model.UploadedFile
	token         string

	subs    map[int]func(State)
	nextSub int
}

// New creates a Store, restoring any previously persisted state. A snapshot
// written by an incompatible schema version is discarded, not partially
// applied.
func New(kv storage.KV, logger *zap.Logger) *Store {
	s := &Store{
		kv:     kv,
		logger: logger,
		subs:   make(map[int]func(State)),
	}
	s.reset()
	s.restore()
	return s
}

// reset puts the store in its initial blank state. Must be called with the
// lock held (or before the store is shared).
func (s *Store) reset() {
	s.formData = make(map[string]any)
	s.currentPage = 1
	s.visitedPages = []int{1}
	s.uploadedFiles = make(map[string][]model.UploadedFile)
	s.token = ""
}

// restore loads persisted state from storage, if present and compatible.
func (s *Store) restore() {
	data, found, err := s.kv.Get(context.Background(), storage.KeyFormState)
	if err != nil {
		s.logger.Warn("form state restore failed", zap.Error(err))
		return
	}
	if !found {
		return
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		s.logger.Warn("form state snapshot malformed, discarding", zap.Error(err))
		return
	}
	if ps.Version != model.SnapshotVersion {
		s.logger.Warn("form state snapshot version mismatch, discarding",
			zap.String("got", ps.Version),
			zap.String("want", model.SnapshotVersion),
		)
		return
	}

	if ps.FormData != nil {
		s.formData = ps.FormData
	}
	if ps.CurrentPage >= 1 {
		s.currentPage = ps.CurrentPage
	}
	if len(ps.VisitedPages) > 0 {
		s.visitedPages = ps.VisitedPages
	}
	if ps.UploadedFiles != nil {
		s.uploadedFiles = ps.UploadedFiles
	}
	s.token = ps.SubmissionToken

	// currentPage must always be a visited page.
	if !s.visitedLocked(s.currentPage) {
		s.visitedPages = append(s.visitedPages, s.currentPage)
	}
}

// Subscribe registers a listener. The listener is immediately invoked with
// the current snapshot, then on every subsequent mutation. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// UpdateFormData shallow-merges partial into the form data. Validation is
// the wizard pages' job, not the store's.
func (s *Store) UpdateFormData(partial map[string]any) {
	s.mu.Lock()
	for k, v := range partial {
		s.formData[k] = v
	}
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// SetCurrentPage moves the wizard to page n and marks it visited.
func (s *Store) SetCurrentPage(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.currentPage = n
	if !s.visitedLocked(n) {
		s.visitedPages = append(s.visitedPages, n)
	}
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// MarkPageVisited adds n to the visited set. Idempotent: marking an
// already-visited page is a no-op and does not notify.
func (s *Store) MarkPageVisited(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	if s.visitedLocked(n) {
		s.mu.Unlock()
		return
	}
	s.visitedPages = append(s.visitedPages, n)
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// CanNavigateTo reports whether the wizard may move to page n: any already
// visited page, or the page directly after the current one. The store
// trusts the caller to have validated the current page before advancing.
func (s *Store) CanNavigateTo(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitedLocked(n) || n == s.currentPage+1
}

// AddUploadedFile appends a file descriptor under the given category.
func (s *Store) AddUploadedFile(category string, f model.UploadedFile) {
	s.mu.Lock()
	s.uploadedFiles[category] = append(s.uploadedFiles[category], f)
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// RemoveUploadedFile removes the named file from the given category.
func (s *Store) RemoveUploadedFile(category, fileName string) {
	s.mu.Lock()
	files := s.uploadedFiles[category]
	kept := files[:0]
	for _, f := range files {
		if f.FileName != fileName {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		delete(s.uploadedFiles, category)
	} else {
		s.uploadedFiles[category] = kept
	}
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// GenerateSubmissionToken unconditionally mints a fresh token, replacing
// any existing one. Use only when starting a brand-new logical submission.
func (s *Store) GenerateSubmissionToken() string {
	s.mu.Lock()
	s.token = newToken()
	token := s.token
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
	return token
}

// SubmissionToken returns the current token, minting one if none exists.
// The get-or-create semantics is what keeps a retried submission on the
// same idempotency key.
func (s *Store) SubmissionToken() string {
	s.mu.Lock()
	if s.token != "" {
		token := s.token
		s.mu.Unlock()
		return token
	}
	s.token = newToken()
	token := s.token
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
	return token
}

// ResetSubmissionState clears the token. Called after a terminal success or
// an explicit start-over; the next SubmissionToken call mints a new one.
func (s *Store) ResetSubmissionState() {
	s.mu.Lock()
	s.token = ""
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// Recover replaces form data, navigation, and uploads from an auto-saved
// snapshot. The submission token is untouched: recovery resumes the same
// logical submission.
func (s *Store) Recover(snap model.FormSnapshot) {
	s.mu.Lock()
	if snap.FormData != nil {
		s.formData = snap.FormData
	}
	if snap.CurrentPage >= 1 {
		s.currentPage = snap.CurrentPage
	}
	if len(snap.VisitedPages) > 0 {
		s.visitedPages = append([]int(nil), snap.VisitedPages...)
	}
	if snap.UploadedFiles != nil {
		s.uploadedFiles = snap.UploadedFiles
	}
	if !s.visitedLocked(s.currentPage) {
		s.visitedPages = append(s.visitedPages, s.currentPage)
	}
	s.persistLocked()
	state, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, state)
}

// Clear discards all form progress and the submission token, returning the
// store to its initial blank state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.reset()
	s.persistLocked()
	snap, subs := s.notifySetLocked()
	s.mu.Unlock()

	notify(subs, snap)
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// FormSnapshot returns the current state as a persistable snapshot, stamped
// with the schema version and the given timestamp.
func (s *Store) FormSnapshot(now time.Time) model.FormSnapshot {
	snap := s.Snapshot()
	return model.FormSnapshot{
		Version:       model.SnapshotVersion,
		Timestamp:     now,
		FormData:      snap.FormData,
		CurrentPage:   snap.CurrentPage,
		VisitedPages:  snap.VisitedPages,
		UploadedFiles: snap.UploadedFiles,
	}
}

// --- internals ---

// visitedLocked reports whether n is in the visited set. Lock must be held.
func (s *Store) visitedLocked(n int) bool {
	for _, p := range s.visitedPages {
		if p == n {
			return true
		}
	}
	return false
}

// snapshotLocked builds a State copy. Lock must be held.
func (s *Store) snapshotLocked() State {
	formData := make(map[string]any, len(s.formData))
	for k, v := range s.formData {
		formData[k] = v
	}
	uploads := make(map[string][]model.UploadedFile, len(s.uploadedFiles))
	for k, v := range s.uploadedFiles {
		uploads[k] = append([]model.UploadedFile(nil), v...)
	}
	return State{
		FormData:        formData,
		CurrentPage:     s.currentPage,
		VisitedPages:    append([]int(nil), s.visitedPages...),
		UploadedFiles:   uploads,
		SubmissionToken: s.token,
	}
}

// persistLocked serializes the full state to storage. Write failures are
// absorbed and logged: the user keeps editing even when persistence is
// failing. Lock must be held.
func (s *Store) persistLocked() {
	ps := persistedState{
		Version:         model.SnapshotVersion,
		Timestamp:       time.Now().UTC(),
		FormData:        s.formData,
		CurrentPage:     s.currentPage,
		VisitedPages:    s.visitedPages,
		UploadedFiles:   s.uploadedFiles,
		SubmissionToken: s.token,
	}
	data, err := json.Marshal(ps)
	if err != nil {
		s.logger.Error("form state marshal failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(context.Background(), storage.KeyFormState, data); err != nil {
		if err == storage.ErrQuotaExceeded {
			s.logger.Warn("form state write hit storage quota")
			return
		}
		s.logger.Error("form state write failed", zap.Error(err))
	}
}

// notifySetLocked collects the snapshot and subscriber list so listeners
// can be invoked after the lock is released. Lock must be held.
func (s *Store) notifySetLocked() (State, []func(State)) {
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return s.snapshotLocked(), subs
}

func notify(subs []func(State), snap State) {
	for _, fn := range subs {
		fn(snap)
	}
}

// newToken mints a submission token: sub-<unix-millis>-<random-suffix>.
func newToken() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to
		// the timestamp alone rather than aborting a submission.
		return fmt.Sprintf("sub-%d", time.Now().UnixMilli())
	}
	return fmt.Sprintf("sub-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
