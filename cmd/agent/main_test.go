package main

import (
	"encoding/hex"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/config"
)

func testConfig() *config.Agent {
	return &config.Agent{
		Port:             "0",
		Workdir:          "/tmp",
		DirectRPCSecret:  hex.EncodeToString([]byte("direct-secret-for-tests")),
		PublicRPCSecret:  hex.EncodeToString([]byte("public-secret-for-tests")),
		MaxBodyBytes:     262144,
		MaxPromptChars:   100000,
		MaxTimeoutMs:     600000,
		DefaultTimeoutMs: 600000,
	}
}

func TestBuildHandlerServesHealth(t *testing.T) {
	handler, err := buildHandler(testConfig(), slog.Default())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestBuildHandlerRejectsUnsignedQuery(t *testing.T) {
	handler, err := buildHandler(testConfig(), slog.Default())
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/query", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestBuildHandlerFailsOnMalformedKeyMaterial(t *testing.T) {
	cfg := testConfig()
	cfg.PublicRPCPublicKey = "zz"

	_, err := buildHandler(cfg, slog.Default())
	require.Error(t, err)
}
