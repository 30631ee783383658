// Command agent runs the sandboxed Agent process: the NDJSON query
// endpoint and its own health endpoint. Grounded on apps/helm-node/main.go's
// Run(args, stdout, stderr) int entrypoint and signal-driven shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/agentserver"
	"github.com/avivsinai/telclaude-sub003/pkg/api"
	"github.com/avivsinai/telclaude-sub003/pkg/config"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the Agent entrypoint, factored out of main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewJSONHandler(stdout, nil))
	cfg := config.LoadAgent()

	if err := runServer(cfg, logger); err != nil {
		logger.Error("agent: fatal", "error", err)
		return 1
	}
	return 0
}

func runServer(cfg *config.Agent, logger *slog.Logger) error {
	handler, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent: listening", "addr", srv.Addr, "workdir", cfg.Workdir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("agent server: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("agent: shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("agent: listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// buildHandler wires the envelope verifier and query server into the
// Agent's top-level HTTP handler, separated from runServer's
// listen/shutdown loop so it can be exercised directly in tests.
func buildHandler(cfg *config.Agent, logger *slog.Logger) (http.Handler, error) {
	directKey, err := envelope.KeyMaterialFromHex(envelope.ScopeDirect, cfg.DirectRPCPrivateKey, cfg.DirectRPCPublicKey, cfg.DirectRPCSecret)
	if err != nil {
		return nil, fmt.Errorf("agent: direct key material: %w", err)
	}
	publicKey, err := envelope.KeyMaterialFromHex(envelope.ScopePublic, cfg.PublicRPCPrivateKey, cfg.PublicRPCPublicKey, cfg.PublicRPCSecret)
	if err != nil {
		return nil, fmt.Errorf("agent: public key material: %w", err)
	}

	nonces := envelope.NewInMemoryNonceStore(10000)
	verifier := envelope.NewVerifier(map[envelope.Scope]envelope.KeyMaterial{
		envelope.ScopeDirect: directKey,
		envelope.ScopePublic: publicKey,
	}, nonces)

	deps := &agentserver.Deps{
		Verifier:       verifier,
		Runner:         agentserver.EchoRunner{},
		Personas:       agentserver.DefaultPersonaBook(),
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxPromptChars: cfg.MaxPromptChars,
		MaxTimeout:     time.Duration(cfg.MaxTimeoutMs) * time.Millisecond,
		DefaultTimeout: time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond,
	}
	server := agentserver.New(deps)

	return api.RequestIDMiddleware(api.LoggingMiddleware(logger, server)), nil
}
