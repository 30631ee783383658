package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/filter"
)

// requestFields is a mutable, request-scoped bag that handlers annotate as
// they resolve auth, so the outermost logging middleware can log scope and
// actor without threading them back out of the handler call chain.
type requestFields struct {
	scope string
	actor string
}

var requestFieldsKey = &contextKey{"request-fields"}

// withRequestFields attaches an empty, mutable fields bag to ctx.
func withRequestFields(ctx context.Context) (context.Context, *requestFields) {
	f := &requestFields{}
	return context.WithValue(ctx, requestFieldsKey, f), f
}

// SetScope annotates the current request's scope for the access log line.
// A no-op if the request wasn't wrapped in LoggingMiddleware.
func SetScope(ctx context.Context, scope string) {
	if f, ok := ctx.Value(requestFieldsKey).(*requestFields); ok {
		f.scope = scope
	}
}

// SetActor annotates the current request's actor ID for the access log line.
func SetActor(ctx context.Context, actor string) {
	if f, ok := ctx.Value(requestFieldsKey).(*requestFields); ok {
		f.actor = actor
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush proxies to the underlying http.Flusher when present, so wrapping a
// streaming handler (the agent query server's NDJSON response) in
// LoggingMiddleware doesn't silently disable flushing.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs one structured line per request via logger, with
// request_id (from RequestIDMiddleware, expected to run further out),
// method, path, status, duration_ms, and whatever scope/actor the handler
// chain annotated via SetScope/SetActor. The free-text fields (request_id,
// path, actor) pass through filter.FilterOutbound's redaction before they
// are logged. Per SPEC_FULL.md §4.L, this wraps
// every HTTP entrypoint: capability router, agent query server, admin
// console.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, fields := withRequestFields(r.Context())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		requestID, _, _ := filter.FilterOutbound(GetRequestID(ctx))
		path, _, _ := filter.FilterOutbound(r.URL.Path)
		actor, _, _ := filter.FilterOutbound(fields.actor)
		logger.Info("http_request",
			"request_id", requestID,
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"scope", fields.scope,
			"actor", actor,
		)
	})
}
