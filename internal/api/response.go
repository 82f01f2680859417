package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/voxgate/voxgate/internal/twiml"
)

// envelope is the standard API response wrapper.
// All JSON responses use this format: { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// writeDocument renders a call-control document for the provider. A
// render failure degrades to an empty document rather than an error
// status, since the provider treats non-200s as call failures.
func writeDocument(w http.ResponseWriter, doc *twiml.Response) {
	body, err := doc.Render()
	if err != nil {
		slog.Error("failed to render response document", "error", err)
		body = []byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}
