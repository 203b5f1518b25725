// Package handler contains HTTP request handlers for the swap-cycle API.
// Handlers are thin: parse, call the service, map errors to status codes.
package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the uniform failure payload: a machine code plus a
// human-readable message. Raw internal errors never cross this boundary.
func errorBody(code, message string) map[string]string {
	return map[string]string{"error": code, "message": message}
}
