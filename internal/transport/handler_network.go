package transport

import (
	"net/http"

	"github.com/rotafacil/formagent/internal/netmon"
)

// networkHandler serves the connectivity endpoints.
type networkHandler struct {
	monitor *netmon.Monitor
}

// status returns the current connectivity status.
func (h *networkHandler) status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.monitor.Status())
}

// retry runs an immediate probe and returns the resulting status.
func (h *networkHandler) retry(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.monitor.Retry())
}

// notifyOnline accepts an online hint from the UI. The hint is verified
// with a probe before the status flips.
func (h *networkHandler) notifyOnline(w http.ResponseWriter, r *http.Request) {
	h.monitor.NotifyOnline()
	WriteJSON(w, http.StatusOK, h.monitor.Status())
}

// notifyOffline accepts an offline hint from the UI, trusted immediately.
func (h *networkHandler) notifyOffline(w http.ResponseWriter, r *http.Request) {
	h.monitor.NotifyOffline()
	WriteJSON(w, http.StatusOK, h.monitor.Status())
}
