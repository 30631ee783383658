// Command relay runs the public-facing Relay process: capability RPC
// router, admin console, and health endpoint on one listener, plus a
// second health-only listener for orchestrators that probe a fixed port.
// Grounded on apps/helm-node/main.go's Run(args, stdout, stderr) int
// entrypoint and dual-listener + signal-driven shutdown shape.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/admin"
	"github.com/avivsinai/telclaude-sub003/pkg/api"
	"github.com/avivsinai/telclaude-sub003/pkg/attachment"
	"github.com/avivsinai/telclaude-sub003/pkg/audit"
	"github.com/avivsinai/telclaude-sub003/pkg/capability"
	"github.com/avivsinai/telclaude-sub003/pkg/config"
	"github.com/avivsinai/telclaude-sub003/pkg/egress"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
	"github.com/avivsinai/telclaude-sub003/pkg/ratelimit"
	"github.com/avivsinai/telclaude-sub003/pkg/session"
	"github.com/avivsinai/telclaude-sub003/pkg/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the Relay entrypoint, factored out of main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewJSONHandler(stdout, nil))
	cfg := config.LoadRelay()

	if err := runServer(cfg, logger); err != nil {
		logger.Error("relay: fatal", "error", err)
		return 1
	}
	return 0
}

func runServer(cfg *config.Relay, logger *slog.Logger) error {
	handler, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	healthSrv := &http.Server{Addr: ":" + cfg.HealthPort, Handler: healthMux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("relay: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay health server: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("relay: shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("relay: listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	return nil
}

// buildHandler wires every package into the Relay's top-level HTTP
// handler, separated from runServer's listen/shutdown loop so it can be
// exercised directly in tests without binding a socket.
func buildHandler(cfg *config.Relay, logger *slog.Logger) (http.Handler, error) {
	ctx := context.Background()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("relay: open store: %w", err)
	}
	if err := db.Init(ctx); err != nil {
		return nil, fmt.Errorf("relay: init schema: %w", err)
	}
	logger.Info("relay: store ready", "backend", string(db.Backend))

	directKey, err := envelope.KeyMaterialFromHex(envelope.ScopeDirect, cfg.DirectRPCPrivateKey, cfg.DirectRPCPublicKey, cfg.DirectRPCSecret)
	if err != nil {
		return nil, fmt.Errorf("relay: direct key material: %w", err)
	}
	publicKey, err := envelope.KeyMaterialFromHex(envelope.ScopePublic, cfg.PublicRPCPrivateKey, cfg.PublicRPCPublicKey, cfg.PublicRPCSecret)
	if err != nil {
		return nil, fmt.Errorf("relay: public key material: %w", err)
	}

	nonces := envelope.NewInMemoryNonceStore(10000)
	verifier := envelope.NewVerifier(map[envelope.Scope]envelope.KeyMaterial{
		envelope.ScopeDirect: directKey,
		envelope.ScopePublic: publicKey,
	}, nonces)

	sessions := session.NewIssuer()

	var allowlist *egress.Allowlist
	if cfg.PrivateEndpointsFile != "" {
		allowlist, err = egress.LoadAllowlistFile(cfg.PrivateEndpointsFile)
		if err != nil {
			return nil, fmt.Errorf("relay: load private endpoints allowlist: %w", err)
		}
	}

	auditLog, err := audit.NewFileLog(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		return nil, fmt.Errorf("relay: open audit log: %w", err)
	}

	guard := egress.NewGuard(allowlist)
	guard.Auditor = auditLog

	var blobStore attachment.BlobStore
	switch cfg.AttachmentBackend {
	case "s3":
		return nil, fmt.Errorf("relay: ATTACHMENT_BACKEND=s3 requires an AWS config wiring step not yet performed for this deployment")
	default:
		fileStore, ferr := attachment.NewFileStore(filepath.Join(cfg.DataDir, "attachments"))
		if ferr != nil {
			return nil, fmt.Errorf("relay: open attachment blob store: %w", ferr)
		}
		blobStore = fileStore
	}
	_ = blobStore // bound for a future Issuer.Blobs wiring; Issuer persists metadata only today

	attachments := attachment.New(db, []byte(cfg.DirectRPCSecret+cfg.PublicRPCSecret))

	var limiterBackend string
	var limiter ratelimit.Store
	var inspectableLimiter ratelimit.Inspector
	caps := ratelimit.DefaultCaps()
	switch cfg.RateLimitBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		l := ratelimit.NewRedis(rdb, caps)
		limiter = l
		inspectableLimiter = l
		limiterBackend = "redis"
	default:
		l := ratelimit.New(db, caps)
		limiter = l
		inspectableLimiter = l
		limiterBackend = string(db.Backend)
	}

	validator, err := capability.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("relay: build capability validator: %w", err)
	}

	capDeps := &capability.Deps{
		Verifier:    verifier,
		Sessions:    sessions,
		Memory:      memory.New(db),
		Limiter:     limiter,
		Egress:      guard,
		Attachments: attachments,
		Validator:   validator,
		Auditor:     auditLog,
	}
	router := capability.New(capDeps)

	keySet, err := admin.NewInMemoryKeySet()
	if err != nil {
		return nil, fmt.Errorf("relay: build admin keyset: %w", err)
	}

	var adminValidator *admin.Validator
	if cfg.AdminJWTPublicKeyPath != "" {
		staticKeySet, serr := admin.LoadStaticKeySetFile(cfg.AdminJWTPublicKeyPath)
		if serr != nil {
			return nil, fmt.Errorf("relay: load admin JWT public key: %w", serr)
		}
		adminValidator = admin.NewValidator(staticKeySet)
		logger.Info("relay: admin console verifying operator tokens against ADMIN_JWT_PUBLIC_KEY")
	} else {
		adminValidator = admin.NewValidator(keySet)
		logger.Info("relay: ADMIN_JWT_PUBLIC_KEY unset; admin console verifies against its own ephemeral in-process key, which nothing outside this process can sign for")
	}

	adminDeps := &admin.Deps{
		Validator:      adminValidator,
		KeySet:         keySet,
		DirectKey:      directKey,
		PublicKey:      publicKey,
		Nonces:         nonces,
		Limiter:        inspectableLimiter,
		LimiterBackend: limiterBackend,
		Memory:         memory.New(db),
	}
	adminServer := admin.New(adminDeps)

	mux := http.NewServeMux()
	mux.Handle("/v1/", router)
	mux.Handle("/admin/", adminServer)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	go cleanupLoop(db, logger)

	return api.RequestIDMiddleware(api.LoggingMiddleware(logger, mux)), nil
}

// cleanupLoop periodically sweeps every TTL'd table, per store.DB.CleanupExpired's
// own doc comment naming this process as its intended caller.
func cleanupLoop(db *store.DB, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if err := db.CleanupExpired(context.Background(), time.Now()); err != nil {
			logger.Error("relay: cleanup sweep failed", "error", err)
		}
	}
}
