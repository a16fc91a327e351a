package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/netmon"
	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/queue"
	"github.com/rotafacil/formagent/model"
)

// queueHandler serves the submission queue endpoints.
type queueHandler struct {
	queue   *queue.Queue
	monitor *netmon.Monitor
	logger  *zap.Logger
}

type queueListResponse struct {
	Items        []model.QueuedSubmission `json:"items"`
	PendingCount int                      `json:"pending_count"`
}

// list returns the queue in FIFO order.
func (h *queueHandler) list(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, queueListResponse{
		Items:        h.queue.Items(),
		PendingCount: h.queue.PendingCount(),
	})
}

// add enqueues a submission. The response is 202: acceptance into the
// durable queue, not delivery to the backend.
func (h *queueHandler) add(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		WriteError(w, model.NewBadRequestError("request body must be a JSON object"))
		return
	}
	if len(data) == 0 {
		WriteValidationError(w, []model.FieldError{{
			Field: "data", Code: "required", Message: "submission data must not be empty",
		}})
		return
	}

	sub := h.queue.Add(data)
	WriteJSON(w, http.StatusAccepted, sub)
}

// process triggers a drain. Draining while offline is rejected so the UI
// gets an actionable error instead of a silent no-op.
func (h *queueHandler) process(w http.ResponseWriter, r *http.Request) {
	log := observability.LoggerFrom(r.Context(), h.logger)
	if !h.monitor.Status().Online {
		log.Warn("manual drain rejected, backend offline")
		WriteError(w, model.NewBackendUnavailableError())
		return
	}
	log.Info("manual drain requested", zap.Int("pending", h.queue.PendingCount()))
	h.queue.Process(r.Context())
	WriteJSON(w, http.StatusOK, queueListResponse{
		Items:        h.queue.Items(),
		PendingCount: h.queue.PendingCount(),
	})
}

// remove deletes one item by ID.
func (h *queueHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, it := range h.queue.Items() {
		if it.ID == id {
			h.queue.Remove(id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	WriteNotFound(w, "submission not found")
}

// clearCompleted removes completed items.
func (h *queueHandler) clearCompleted(w http.ResponseWriter, r *http.Request) {
	h.queue.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}

// clearAll empties the queue.
func (h *queueHandler) clearAll(w http.ResponseWriter, r *http.Request) {
	h.queue.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}
