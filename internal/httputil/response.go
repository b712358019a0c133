// Package httputil contains shared HTTP utilities for consistent response formatting across handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func WriteJSONError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteJSONErrorDetails adds a details field, e.g. per-field validation failures.
func WriteJSONErrorDetails(w http.ResponseWriter, message string, details any, status int) {
	WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}
