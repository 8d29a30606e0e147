package util

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader is set on every response by the request id middleware.
const RequestIDHeader = "X-Request-ID"

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes payload as an uncached JSON response. Health probes must
// never be answered from a cache.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes an APIError carrying the request id already set on the
// response, if any.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, APIError{Code: code, Message: msg, RequestID: w.Header().Get(RequestIDHeader)})
}
