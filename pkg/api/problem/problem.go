// Package problem provides RFC 7807 Problem Detail error responses for
// the HTTP API.
package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Detail implements RFC 7807 (Problem Details for HTTP APIs). All API error
// responses use this format.
type Detail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links the response to the request's X-Request-ID.
	TraceID string `json:"trace_id,omitempty"`
	// Errors carries the full violation list for validation failures.
	Errors []string `json:"errors,omitempty"`
}

// Error implements the error interface.
func (p *Detail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Write writes an RFC 7807 Problem Detail JSON response.
func Write(w http.ResponseWriter, status int, title, detail string) {
	WriteFull(w, &Detail{
		Type:   fmt.Sprintf("https://eve.organiq.se/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteFull writes a fully populated problem document.
func WriteFull(w http.ResponseWriter, p *Detail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("https://eve.organiq.se/errors/%d", p.Status)
	}
	if p.TraceID == "" {
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteValidation writes a 422 with the full violation list.
func WriteValidation(w http.ResponseWriter, errs []string) {
	WriteFull(w, &Detail{
		Title:  "Validation Failed",
		Status: http.StatusUnprocessableEntity,
		Detail: "the instruction violates one or more authorization rules",
		Errors: errs,
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	Write(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	Write(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "insufficient permissions"
	}
	Write(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	Write(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	Write(w, http.StatusMethodNotAllowed, "Method Not Allowed", "the HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	Write(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	Write(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry after the specified interval")
}

// WriteInternal writes a 500 error response. The err is logged but never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	Write(w, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
}
