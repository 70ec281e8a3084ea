// Package marshaller transforms domain objects into the transport
// payloads shared by the REST and long-poll surfaces, and centralizes
// how errors reach a peer: protocol errors map to their status code
// and a detail string, everything else collapses to a generic 500 so
// internals never leak.
package marshaller

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/telewake/relay-service/internal/domain/model"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

// WriteJSON renders v with the given status. Encoding failures are
// logged by net/http's error path; headers are already gone by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDetail renders the error shape used across the REST surface.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, detailResponse{Detail: detail})
}

// WriteError maps an error onto the REST surface. Protocol errors keep
// their kind's status and peer-facing message; anything unrecognized is
// logged and reported as a generic internal error.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if pe, ok := model.AsError(err); ok {
		WriteDetail(w, pe.Kind.HTTPStatus(), pe.Message)
		return
	}
	logger.Error("request failed", "error", err)
	WriteDetail(w, http.StatusInternalServerError, "Internal server error")
}
