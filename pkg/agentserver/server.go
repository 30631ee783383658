// Package agentserver implements the Agent's two HTTP endpoints: GET
// /health and POST /v1/query, the latter streaming application/x-ndjson
// text/tool_use/done events. Grounded on core/cmd/helm/proxy_cmd.go's
// ModifyResponse streaming-detection shape, generalized from a response
// post-processor into a true producer/consumer NDJSON pipeline per
// spec.md §9's coroutine/async redesign note.
package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/api"
	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
	"github.com/avivsinai/telclaude-sub003/pkg/filter"
	"github.com/avivsinai/telclaude-sub003/pkg/tiers"
)

// sessionTokenEnvVar is the well-known environment variable name a Runner
// must set on its own per-request subprocess (e.g. in an exec.Cmd.Env
// slice), never on the process-wide environment, when it execs a tool
// runtime that expects the caller-provided session token this way, per
// spec.md §4.H. QueryRequest.SessionToken carries the value to the Runner;
// this package never mutates os.Environ, since concurrent /v1/query calls
// share one process and must not race each other's tokens. Never logged.
const sessionTokenEnvVar = "BRIDGE_AGENT_SESSION_TOKEN"

const maxBodyBytesDefault = 262144
const maxPromptCharsDefault = 100000
const minTimeout = time.Second
const maxTimeoutDefault = 10 * time.Minute

// Deps is the explicit service registry for the agent query server,
// replacing module-level singletons per spec.md §9.
type Deps struct {
	Verifier       *envelope.Verifier
	Runner         Runner
	Personas       *PersonaBook
	MaxBodyBytes   int64
	MaxPromptChars int
	MaxTimeout     time.Duration
	DefaultTimeout time.Duration
	Now            func() time.Time

	startedAt time.Time
	once      sync.Once
}

func (d *Deps) init() {
	d.once.Do(func() {
		if d.MaxBodyBytes == 0 {
			d.MaxBodyBytes = maxBodyBytesDefault
		}
		if d.MaxPromptChars == 0 {
			d.MaxPromptChars = maxPromptCharsDefault
		}
		if d.MaxTimeout == 0 {
			d.MaxTimeout = maxTimeoutDefault
		}
		if d.DefaultTimeout == 0 {
			d.DefaultTimeout = d.MaxTimeout
		}
		if d.Now == nil {
			d.Now = time.Now
		}
		if d.Personas == nil {
			d.Personas = DefaultPersonaBook()
		}
		d.startedAt = d.Now()
	})
}

// Server is the Agent's HTTP handler.
type Server struct {
	deps *Deps
}

// New builds a Server.
func New(deps *Deps) *Server {
	deps.init()
	return &Server{deps: deps}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		s.handleHealth(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/query":
		s.handleQuery(w, r)
	default:
		api.WriteCapabilityError(w, http.StatusNotFound, "not-found", "no such path")
	}
}

type runtimeInfo struct {
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	StartedAt     string `json:"startedAt"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

type healthResponse struct {
	OK      bool        `json:"ok"`
	Service string      `json:"service"`
	Runtime runtimeInfo `json:"runtime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Now()
	resp := healthResponse{
		OK:      true,
		Service: "agent",
		Runtime: runtimeInfo{
			Version:       buildVersion(),
			Revision:      buildRevision(),
			StartedAt:     s.deps.startedAt.UTC().Format(time.RFC3339),
			UptimeSeconds: int64(now.Sub(s.deps.startedAt).Seconds()),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func buildRevision() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

// queryBody is the wire shape of POST /v1/query, per spec.md §4.H.
type queryBody struct {
	Prompt             string `json:"prompt"`
	Tier               string `json:"tier"`
	PoolKey            string `json:"poolKey"`
	Cwd                string `json:"cwd,omitempty"`
	EnableSkills       bool   `json:"enableSkills,omitempty"`
	TimeoutMs          int64  `json:"timeoutMs,omitempty"`
	ResumeSessionID    string `json:"resumeSessionId,omitempty"`
	UserID             string `json:"userId,omitempty"`
	SystemPromptAppend string `json:"systemPromptAppend,omitempty"`
	SessionToken       string `json:"sessionToken,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := readLimited(r.Body, s.deps.MaxBodyBytes)
	if err != nil {
		api.WriteCapabilityError(w, http.StatusRequestEntityTooLarge, "invalid-argument", "request body too large")
		return
	}

	h := envelope.HeadersFromRequest(r)
	result, verr := s.deps.Verifier.VerifyHeaders(r.Method, r.URL.Path, body, h)
	if verr != nil {
		status, code := authStatus(verr)
		api.WriteCapabilityError(w, status, code, verr.Error())
		return
	}
	scope := result.Scope
	api.SetScope(r.Context(), string(scope))

	var q queryBody
	if err := json.Unmarshal(body, &q); err != nil {
		api.WriteCapabilityError(w, http.StatusBadRequest, "invalid-argument", "malformed JSON body")
		return
	}
	if q.Prompt == "" {
		api.WriteCapabilityError(w, http.StatusBadRequest, "invalid-argument", "prompt is required")
		return
	}
	if len(q.Prompt) > s.deps.MaxPromptChars {
		api.WriteCapabilityError(w, http.StatusRequestEntityTooLarge, "invalid-argument", "prompt exceeds maximum length")
		return
	}
	if q.PoolKey == "" {
		api.WriteCapabilityError(w, http.StatusBadRequest, "invalid-argument", "poolKey is required")
		return
	}

	persona := personaForScope(scope)
	tier := string(tiers.Canonicalize(q.Tier))
	userID := q.UserID
	if scope == envelope.ScopePublic {
		tier = "public-social"
		if userID == "" {
			userID = "public:"
		} else if !strings.HasPrefix(userID, "public:") {
			userID = "public:" + userID
		}
	}
	api.SetActor(r.Context(), userID)

	timeout := clampTimeout(q.TimeoutMs, s.deps.DefaultTimeout, s.deps.MaxTimeout)
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	systemPrompt := s.deps.Personas.BuildSystemPrompt(persona, "", q.SystemPromptAppend)
	req := QueryRequest{
		Prompt:          q.Prompt,
		SystemPrompt:    systemPrompt,
		Tier:            tier,
		PoolKey:         q.PoolKey,
		Cwd:             q.Cwd,
		EnableSkills:    q.EnableSkills,
		ResumeSessionID: q.ResumeSessionID,
		UserID:          userID,
		SessionToken:    q.SessionToken,
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	s.stream(ctx, w, flusher, req)
}

// stream runs the producer/consumer pipeline spec.md §9 calls for: a
// producer task (the Runner) writes events into a bounded channel; this
// goroutine is the consumer, draining the channel into the response
// writer and closing it on ctx cancellation or channel close, whichever
// comes first.
func (s *Server) stream(ctx context.Context, w io.Writer, flusher http.Flusher, req QueryRequest) {
	events := make(chan Event, 16)
	resultCh := make(chan QueryResult, 1)
	start := time.Now()

	go func() {
		defer close(events)
		res, err := s.deps.Runner.Run(ctx, req, func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
		if err != nil && res.Error == "" {
			res.Success = false
			if ctx.Err() != nil {
				res.Error = "abort"
			} else {
				res.Error = err.Error()
			}
		}
		res.DurationMs = time.Since(start).Milliseconds()
		resultCh <- res
	}()

	buf := filter.NewChunkBuffer()
	enc := json.NewEncoder(w)

	for {
		select {
		case e, ok := <-events:
			if !ok {
				s.writeDone(enc, flusher, <-resultCh)
				return
			}
			if e.Type == "text" {
				safe, _ := buf.Append(e.Content)
				e.Content = safe
			}
			_ = enc.Encode(e)
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			res := QueryResult{Success: false, Error: "abort", DurationMs: time.Since(start).Milliseconds()}
			_ = enc.Encode(doneEvent(res))
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
	}
}

func (s *Server) writeDone(enc *json.Encoder, flusher http.Flusher, res QueryResult) {
	if res.Response != "" {
		redacted, blocked, _ := filter.FilterOutbound(res.Response)
		res.Response = redacted
		if blocked {
			res.Success = false
			res.Error = "secret detected in response"
		}
	}
	_ = enc.Encode(doneEvent(res))
	if flusher != nil {
		flusher.Flush()
	}
}

func clampTimeout(requestedMs int64, def, max time.Duration) time.Duration {
	if requestedMs <= 0 {
		return def
	}
	d := time.Duration(requestedMs) * time.Millisecond
	if d < minTimeout {
		return minTimeout
	}
	if d > max {
		return max
	}
	return d
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = maxBodyBytesDefault
	}
	limited := io.LimitReader(r, max+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > max {
		return nil, errBodyTooLarge
	}
	return buf, nil
}

var errBodyTooLarge = errors.New("agentserver: request body too large")

func authStatus(err error) (int, string) {
	reason, _ := envelope.RejectReasonOf(err)
	switch reason {
	case envelope.ReasonExpiredToken:
		return http.StatusUnauthorized, "token-expired"
	case envelope.ReasonStale:
		return http.StatusUnauthorized, "stale-timestamp"
	case envelope.ReasonReplay:
		return http.StatusUnauthorized, "replay"
	case envelope.ReasonBadSignature:
		return http.StatusUnauthorized, "bad-signature"
	case envelope.ReasonUnknownScope:
		return http.StatusUnauthorized, "unknown-scope"
	default:
		return http.StatusUnauthorized, "missing-headers"
	}
}
