// Package client is a typed Go client for the Relay's capability RPCs and
// the Agent's query stream. Zero external dependencies beyond the bridge's
// own envelope/crypto packages — net/http and encoding/json do the wire
// work, the same minimal-dependency posture the original client shipped
// with.
package client

import "time"

// BridgeError is the standard error envelope every capability RPC and the
// Agent's query endpoint returns on a non-2xx response.
type BridgeError struct {
	Error struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

type MemoryEntry struct {
	ID         string     `json:"id"`
	Category   string     `json:"category"`
	Content    string     `json:"content"`
	Source     string     `json:"source"`
	Trust      string     `json:"trust"`
	CreatedAt  time.Time  `json:"createdAt"`
	PromotedAt *time.Time `json:"promotedAt,omitempty"`
	PromotedBy string     `json:"promotedBy,omitempty"`
	PostedAt   *time.Time `json:"postedAt,omitempty"`
	ChatID     string     `json:"chatId,omitempty"`
}

type ProposeEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Content  string `json:"content"`
	ChatID   string `json:"chatId,omitempty"`
}

type ProposeRequest struct {
	Entries []ProposeEntry `json:"entries"`
}

type SnapshotRequest struct {
	Categories []string `json:"categories,omitempty"`
	Trust      []string `json:"trust,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	ChatID     string   `json:"chatId,omitempty"`
}

type SessionIssueRequest struct {
	LifetimeSeconds int `json:"lifetimeSeconds,omitempty"`
}

type SessionIssueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// QueryRequest is the body of Agent POST /v1/query.
type QueryRequest struct {
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

// QueryEvent mirrors agentserver.Event: one line of the NDJSON stream.
type QueryEvent struct {
	Type     string      `json:"type"`
	Content  string      `json:"content,omitempty"`
	ToolName string      `json:"toolName,omitempty"`
	Input    any         `json:"input,omitempty"`
	Result   *QueryResult `json:"result,omitempty"`
}

type QueryResult struct {
	Response   string  `json:"response"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
	CostUsd    float64 `json:"costUsd"`
	NumTurns   int     `json:"numTurns"`
	DurationMs int64   `json:"durationMs"`
}
