package agentserver

import "context"

// QueryRequest is the validated, persona-resolved request handed to a
// Runner. It is distinct from the wire-level queryBody so a Runner never
// sees unvalidated input.
type QueryRequest struct {
	Prompt          string
	SystemPrompt    string
	Tier            string
	PoolKey         string
	Cwd             string
	EnableSkills    bool
	ResumeSessionID string
	UserID          string
	SessionToken    string
}

// Runner hosts the actual LLM/tool-execution runtime. It is an external
// collaborator per spec.md §1 ("the LLM tool runtime itself" is explicitly
// out of scope) — this package owns only the HTTP/NDJSON boundary, timeout
// and abort plumbing, and persona/session-token injection around it.
//
// Run must push zero or more text/tool_use events to emit, then return the
// terminal result. Run must respect ctx cancellation promptly: once ctx is
// done it should stop producing and return.
type Runner interface {
	Run(ctx context.Context, req QueryRequest, emit func(Event)) (QueryResult, error)
}

// EchoRunner is a trivial Runner used for local development and tests: it
// emits the prompt back as a single text chunk. It stands in for the real
// tool-execution runtime, which is wired in by the deployment, not by this
// package.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, req QueryRequest, emit func(Event)) (QueryResult, error) {
	select {
	case <-ctx.Done():
		return QueryResult{Success: false, Error: "abort"}, ctx.Err()
	default:
	}
	emit(textEvent(req.Prompt))
	return QueryResult{Response: req.Prompt, Success: true, NumTurns: 1}, nil
}
