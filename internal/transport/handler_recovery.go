package transport

import (
	"errors"
	"net/http"

	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/recovery"
)

// recoveryHandler serves the resume-or-discard endpoints.
type recoveryHandler struct {
	recovery *recovery.Service
	store    *formstate.Store
}

// prompt describes the recoverable snapshot, if any.
func (h *recoveryHandler) prompt(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.recovery.Prompt())
}

// resume applies the recovered snapshot and returns the resulting state.
func (h *recoveryHandler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.recovery.Resume(); err != nil {
		if errors.Is(err, recovery.ErrNothingToRecover) {
			WriteNotFound(w, "no auto-saved data to resume")
			return
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

// discard drops the recovered snapshot, keeping the live state.
func (h *recoveryHandler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.recovery.Discard(); err != nil {
		if errors.Is(err, recovery.ErrNothingToRecover) {
			WriteNotFound(w, "no auto-saved data to discard")
			return
		}
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
