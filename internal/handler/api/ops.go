package api

import (
	"net/http"

	"github.com/telewake/relay-service/internal/handler/marshaller"
)

// Stats serves the operational snapshot. It is unauthenticated: the
// counters are aggregates with nothing account-specific in them.
func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Snapshot(r.Context())
	if err != nil {
		marshaller.WriteError(w, h.logger, err)
		return
	}
	marshaller.WriteJSON(w, http.StatusOK, snap)
}

// Health answers liveness probes. It never fails: a broken store only
// degrades the advertised base URL, not the report.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	marshaller.WriteJSON(w, http.StatusOK, h.stats.Health(r.Context()))
}
