// Package recovery implements the resume-or-discard flow for auto-saved
// form data found at startup.
package recovery

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/formstate"
)

// ErrNothingToRecover is returned by Resume when no recoverable snapshot
// exists.
var ErrNothingToRecover = errors.New("recovery: no auto-saved data")

// Prompt describes the recoverable snapshot to the UI so the user can
// decide between resuming and discarding.
type Prompt struct {
	Available   bool      `json:"available"`
	SavedAt     time.Time `json:"saved_at,omitempty"`
	CurrentPage int       `json:"current_page,omitempty"`
	FieldCount  int       `json:"field_count,omitempty"`
}

// Service mediates between the auto-save snapshot and the live form state.
type Service struct {
	store  *formstate.Store
	saver  *autosave.Scheduler
	logger *zap.Logger
}

// New creates a recovery Service.
func New(store *formstate.Store, saver *autosave.Scheduler, logger *zap.Logger) *Service {
	return &Service{store: store, saver: saver, logger: logger}
}

// Prompt returns the current recovery offer. Available is false once the
// user has resumed or discarded.
func (s *Service) Prompt() Prompt {
	snap, ok := s.saver.RecoveredSnapshot()
	if !ok {
		return Prompt{}
	}
	return Prompt{
		Available:   true,
		SavedAt:     snap.Timestamp,
		CurrentPage: snap.CurrentPage,
		FieldCount:  len(snap.FormData),
	}
}

// Resume applies the recovered snapshot to the form state store. The
// submission token is untouched: resuming is a continuation of the same
// logical submission, not a new one.
func (s *Service) Resume() error {
	snap, ok := s.saver.RecoveredSnapshot()
	if !ok {
		return ErrNothingToRecover
	}

	s.store.Recover(snap)
	if err := s.saver.ClearAutoSave(); err != nil {
		// The state is already applied; a lingering snapshot only means the
		// prompt could reappear after a crash before the next save.
		s.logger.Warn("auto-save cleanup after resume failed", zap.Error(err))
	}

	s.logger.Info("auto-saved form data resumed",
		zap.Time("saved_at", snap.Timestamp),
		zap.Int("current_page", snap.CurrentPage),
	)
	return nil
}

// Discard drops the recovered snapshot, leaving the live state as it is.
func (s *Service) Discard() error {
	if _, ok := s.saver.RecoveredSnapshot(); !ok {
		return ErrNothingToRecover
	}
	if err := s.saver.ClearAutoSave(); err != nil {
		return err
	}
	s.logger.Info("auto-saved form data discarded")
	return nil
}
