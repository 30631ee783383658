package main

import (
	"encoding/hex"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/config"
)

func testConfig(t *testing.T) *config.Relay {
	t.Helper()
	dir := t.TempDir()
	return &config.Relay{
		Port:              "0",
		HealthPort:        "0",
		DataDir:           dir,
		DatabaseURL:       "file:" + filepath.Join(dir, "bridge.db"),
		DirectRPCSecret:   hex.EncodeToString([]byte("direct-secret-for-tests")),
		PublicRPCSecret:   hex.EncodeToString([]byte("public-secret-for-tests")),
		RateLimitBackend:  "sqlite",
		AttachmentBackend: "file",
	}
}

func TestBuildHandlerServesHealth(t *testing.T) {
	logger := slog.Default()
	handler, err := buildHandler(testConfig(t), logger)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestBuildHandlerRejectsUnsignedCapabilityRequest(t *testing.T) {
	logger := slog.Default()
	handler, err := buildHandler(testConfig(t), logger)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/memory.snapshot", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestBuildHandlerFailsOnMalformedKeyMaterial(t *testing.T) {
	cfg := testConfig(t)
	cfg.DirectRPCPrivateKey = "not-hex!!"

	_, err := buildHandler(cfg, slog.Default())
	require.Error(t, err)
}
