package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of every error response: a stable machine
// code plus human-readable detail the operator UI can show verbatim.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes a JSON error with the given status and code.
func ErrorResponse(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, errorBody{Error: code, Message: message})
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
