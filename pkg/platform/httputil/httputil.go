// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"contentsync/pkg/platform/sentinel"
)

// Error codes written in the "error" field of an error response.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// Error is an error with a response status and code.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

func BadRequest(description string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Description: description}
}

func Unauthorized(description string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Description: description}
}

func NotFound(description string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Description: description}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the JSON error envelope for err. Infrastructure sentinels
// map to not_found and unavailable without a description. Anything else that
// is not an *Error becomes an internal error.
func WriteError(w http.ResponseWriter, err error) {
	var httpErr *Error
	switch {
	case errors.As(err, &httpErr):
	case errors.Is(err, sentinel.ErrNotFound):
		httpErr = &Error{Status: http.StatusNotFound, Code: CodeNotFound}
	case errors.Is(err, sentinel.ErrUnavailable):
		httpErr = &Error{Status: http.StatusServiceUnavailable, Code: CodeUnavailable}
	default:
		httpErr = &Error{Status: http.StatusInternalServerError, Code: CodeInternal}
	}
	body := map[string]string{"error": httpErr.Code}
	if httpErr.Status < http.StatusInternalServerError && httpErr.Description != "" {
		body["error_description"] = httpErr.Description
	}
	WriteJSON(w, httpErr.Status, body)
}
