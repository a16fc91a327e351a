package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/model"
)

// formHandler serves the form state endpoints.
type formHandler struct {
	store    *formstate.Store
	autosave *autosave.Scheduler
}

// getState returns the full form state.
func (h *formHandler) getState(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

// clear wipes the form state and the auto-saved snapshot.
func (h *formHandler) clear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	if err := h.autosave.ClearAutoSave(); err != nil {
		WriteError(w, model.NewInternalError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateData merges a partial form-data object into the current state.
func (h *formHandler) updateData(w http.ResponseWriter, r *http.Request) {
	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		WriteError(w, model.NewBadRequestError("request body must be a JSON object"))
		return
	}
	h.store.UpdateFormData(partial)
	WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

type setPageRequest struct {
	Page int `json:"page"`
}

// setPage moves the wizard to a page, enforcing sequential navigation.
func (h *formHandler) setPage(w http.ResponseWriter, r *http.Request) {
	var req setPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, model.NewBadRequestError("request body must be a JSON object with a page number"))
		return
	}
	if req.Page < 1 {
		WriteValidationError(w, []model.FieldError{{
			Field: "page", Code: "min", Message: "page must be at least 1",
		}})
		return
	}
	if !h.store.CanNavigateTo(req.Page) {
		WriteError(w, model.NewConflictError("page has not been reached yet"))
		return
	}
	h.store.SetCurrentPage(req.Page)
	WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

// canNavigate reports whether a page is reachable from the current position.
func (h *formHandler) canNavigate(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		WriteError(w, model.NewBadRequestError("page must be a positive integer"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"page":    page,
		"allowed": h.store.CanNavigateTo(page),
	})
}

// addFile records an uploaded-file reference under a category.
func (h *formHandler) addFile(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var f model.UploadedFile
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		WriteError(w, model.NewBadRequestError("request body must be an uploaded-file object"))
		return
	}
	if f.FileName == "" || f.FileURL == "" {
		WriteValidationError(w, []model.FieldError{
			{Field: "file_name", Code: "required", Message: "file_name is required"},
			{Field: "file_url", Code: "required", Message: "file_url is required"},
		})
		return
	}

	h.store.AddUploadedFile(category, f)
	WriteJSON(w, http.StatusCreated, h.store.Snapshot().UploadedFiles[category])
}

// removeFile drops an uploaded-file reference by name.
func (h *formHandler) removeFile(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	fileName := chi.URLParam(r, "fileName")

	h.store.RemoveUploadedFile(category, fileName)
	w.WriteHeader(http.StatusNoContent)
}

// getToken returns the submission token, minting one if none exists. The
// same token comes back on every call until the submission cycle is reset.
func (h *formHandler) getToken(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"token": h.store.SubmissionToken()})
}

// regenerateToken forces a fresh token, starting a new submission cycle.
func (h *formHandler) regenerateToken(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"token": h.store.GenerateSubmissionToken()})
}

// resetSubmissionState drops the token so the next request mints a new one.
func (h *formHandler) resetSubmissionState(w http.ResponseWriter, r *http.Request) {
	h.store.ResetSubmissionState()
	w.WriteHeader(http.StatusNoContent)
}

// manualSave persists a snapshot immediately, outside the debounce cycle.
func (h *formHandler) manualSave(w http.ResponseWriter, r *http.Request) {
	if !h.autosave.ManualSave() {
		WriteError(w, model.NewStorageFullError())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
