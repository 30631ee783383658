package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddlewareRecordsAnnotatedScopeAndActor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetScope(r.Context(), "direct")
		SetActor(r.Context(), "actor-1")
		w.WriteHeader(http.StatusTeapot)
	})

	handler := RequestIDMiddleware(LoggingMiddleware(logger, inner))
	req := httptest.NewRequest("POST", "/v1/query", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusTeapot, w.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimRight(buf.Bytes(), "\n"), &line))
	assert.Equal(t, "direct", line["scope"])
	assert.Equal(t, "actor-1", line["actor"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.NotEmpty(t, line["request_id"])
}

func TestLoggingMiddlewareDefaultsWhenUnannotated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggingMiddleware(logger, inner)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.True(t, strings.Contains(buf.String(), `"status":200`))
}
