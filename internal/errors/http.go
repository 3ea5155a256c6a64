// Package errors defines the JSON error envelope shared by every warden HTTP
// surface, so agents parsing failures see one stable shape.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// HTTPErrorResponse is the wire envelope for every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the envelope body.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Write emits the error envelope with the given status. The request id, when
// present in the request context, is echoed so callers can correlate logs.
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteDetails(w, r, status, code, message, nil)
}

// WriteDetails is Write with an optional details map.
func WriteDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := HTTPErrorResponse{
		Error: HTTPError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if r != nil {
		resp.Error.RequestID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFound is the router-level 404 handler.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed is the router-level 405 handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed for this resource")
}
