package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsync/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   map[string]string
	}{
		{
			name:   "internal error omits description",
			err:    errors.New("db failed"),
			status: http.StatusInternalServerError,
			body:   map[string]string{"error": CodeInternal},
		},
		{
			name:   "bad request includes description",
			err:    BadRequest("invalid input"),
			status: http.StatusBadRequest,
			body:   map[string]string{"error": CodeBadRequest, "error_description": "invalid input"},
		},
		{
			name:   "wrapped error keeps its status",
			err:    fmt.Errorf("decode events: %w", BadRequest("event path must be absolute")),
			status: http.StatusBadRequest,
			body:   map[string]string{"error": CodeBadRequest, "error_description": "event path must be absolute"},
		},
		{
			name:   "unauthorized",
			err:    Unauthorized("admin token required"),
			status: http.StatusUnauthorized,
			body:   map[string]string{"error": CodeUnauthorized, "error_description": "admin token required"},
		},
		{
			name:   "not found",
			err:    NotFound("no such trigger"),
			status: http.StatusNotFound,
			body:   map[string]string{"error": CodeNotFound, "error_description": "no such trigger"},
		},
		{
			name:   "not found sentinel",
			err:    fmt.Errorf("service user %q: %w", "svc", sentinel.ErrNotFound),
			status: http.StatusNotFound,
			body:   map[string]string{"error": CodeNotFound},
		},
		{
			name:   "unavailable sentinel hides the cause",
			err:    fmt.Errorf("publish to redis: dial tcp: %w", sentinel.ErrUnavailable),
			status: http.StatusServiceUnavailable,
			body:   map[string]string{"error": CodeUnavailable},
		},
		{
			name:   "closed sentinel is internal",
			err:    fmt.Errorf("publish: %w", sentinel.ErrClosed),
			status: http.StatusInternalServerError,
			body:   map[string]string{"error": CodeInternal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]int{"published": 2})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"published":2}`, w.Body.String())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad_request: at least one event is required", BadRequest("at least one event is required").Error())
}
