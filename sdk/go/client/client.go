package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
)

// BridgeAPIError is returned when the Relay or Agent responds with a
// non-2xx status.
type BridgeAPIError struct {
	Status int
	Reason string
	Msg    string
}

func (e *BridgeAPIError) Error() string {
	return fmt.Sprintf("bridge %d: %s (%s)", e.Status, e.Msg, e.Reason)
}

// RelayClient signs every capability RPC under the given scope's key
// material and talks to a Relay listener over plain net/http.
type RelayClient struct {
	BaseURL    string
	Keys       envelope.KeyMaterial
	HTTPClient *http.Client
	now        func() time.Time
}

// NewRelayClient constructs a client that signs requests for the given
// scope's key material (must carry a signing-side Ed25519 or HMAC key).
func NewRelayClient(baseURL string, keys envelope.KeyMaterial) *RelayClient {
	return &RelayClient{
		BaseURL:    baseURL,
		Keys:       keys,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// WithBearerToken returns a client that authenticates with a session
// token minted by SessionIssue instead of signing each request.
func (c *RelayClient) WithBearerToken(token string) *bearerRelayClient {
	return &bearerRelayClient{relay: c, token: token}
}

func (c *RelayClient) do(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	headers, err := envelope.Sign(c.Keys, http.MethodPost, path, raw, c.now())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	headers.Apply(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var be BridgeError
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &be) == nil {
			return &BridgeAPIError{Status: resp.StatusCode, Reason: be.Error.Reason, Msg: be.Error.Message}
		}
		return &BridgeAPIError{Status: resp.StatusCode, Reason: "unknown", Msg: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// MemoryPropose calls POST /v1/memory.propose.
func (c *RelayClient) MemoryPropose(ctx context.Context, req ProposeRequest) ([]MemoryEntry, error) {
	var out struct {
		Entries []MemoryEntry `json:"entries"`
	}
	err := c.do(ctx, "/v1/memory.propose", req, &out)
	return out.Entries, err
}

// MemorySnapshot calls POST /v1/memory.snapshot.
func (c *RelayClient) MemorySnapshot(ctx context.Context, req SnapshotRequest) ([]MemoryEntry, error) {
	var out []MemoryEntry
	err := c.do(ctx, "/v1/memory.snapshot", req, &out)
	return out, err
}

// SessionIssue calls POST /v1/session.issue, minting a bearer token bound
// to this client's scope. The returned token cannot itself mint further
// tokens — see pkg/capability's handleSessionIssue.
func (c *RelayClient) SessionIssue(ctx context.Context, req SessionIssueRequest) (*SessionIssueResponse, error) {
	var out SessionIssueResponse
	err := c.do(ctx, "/v1/session.issue", req, &out)
	return &out, err
}

// bearerRelayClient authenticates with a session token rather than a
// fresh signature on every call; spec.md §4.C forbids it from issuing
// further session tokens, so it has no SessionIssue method.
type bearerRelayClient struct {
	relay *RelayClient
	token string
}

func (c *bearerRelayClient) do(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relay.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.relay.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *bearerRelayClient) MemorySnapshot(ctx context.Context, req SnapshotRequest) ([]MemoryEntry, error) {
	var out []MemoryEntry
	err := c.do(ctx, "/v1/memory.snapshot", req, &out)
	return out, err
}

// AgentClient signs and streams POST /v1/query against an Agent listener.
type AgentClient struct {
	BaseURL    string
	Keys       envelope.KeyMaterial
	HTTPClient *http.Client
	now        func() time.Time
}

// NewAgentClient constructs a client for the Agent's query endpoint.
func NewAgentClient(baseURL string, keys envelope.KeyMaterial) *AgentClient {
	return &AgentClient{
		BaseURL:    baseURL,
		Keys:       keys,
		HTTPClient: &http.Client{Timeout: 0}, // streaming: caller controls ctx deadline
		now:        time.Now,
	}
}

// Query streams the Agent's NDJSON response, invoking onEvent for each
// decoded line until the stream closes or onEvent returns an error.
func (c *AgentClient) Query(ctx context.Context, req QueryRequest, onEvent func(QueryEvent) error) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	headers, err := envelope.Sign(c.Keys, http.MethodPost, "/v1/query", raw, c.now())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/query", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	headers.Apply(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeResponse(resp, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev QueryEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}
