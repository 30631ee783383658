// Package audit provides an append-only, hash-chained audit log for
// security-relevant events: egress-guard blocks and capability scope
// denials. Grounded on
// core/cmd/helm/proxy_cmd.go's receiptStore (JSONL persistence, causal
// PrevHash chain, SHA-256 over the marshaled entry), generalized from a
// single-purpose proxy receipt to a general Log interface and enriched
// with JCS canonicalization so the hash is stable regardless of the
// marshaler's field ordering.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/avivsinai/telclaude-sub003/pkg/filter"
)

// Genesis is the PrevHash value of the first entry in a chain.
const Genesis = "GENESIS"

// Event is one audit log entry. Payload is arbitrary structured context
// (request IDs, blocked URLs, error codes) — never raw secret material;
// string-typed payload values are passed through filter.FilterOutbound
// before the entry is hashed and persisted, since an audit record is
// itself an outward-facing text path.
type Event struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
}

// Log is the append-only audit interface. Append is the only write path;
// Entries returns the full chain in append order.
type Log interface {
	Append(ctx context.Context, actor, action string, payload map[string]any) (Event, error)
	Entries() ([]Event, error)
}

// redactPayload runs every string-typed payload value through
// filter.FilterOutbound, matching spec.md's listing of audit records as
// one of the boundaries the outbound filter must cover.
func redactPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			redacted, _, _ := filter.FilterOutbound(s)
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

// canonicalHash JCS-canonicalizes the entry (with Hash cleared) and
// returns "sha256:<hex>" of the canonical bytes, matching the
// "sha256:"-prefixed hash format the teacher's receipt chain uses.
func canonicalHash(e Event) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// FileLog is a persistent implementation backed by an append-only JSONL
// file, one Event per line.
type FileLog struct {
	mu       sync.Mutex
	path     string
	prevHash string
	seq      int64
}

// NewFileLog opens (creating if absent) the JSONL file at path and
// replays it once to recover the current chain tip and sequence number,
// so a restarted process continues the same causal chain.
func NewFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	l := &FileLog{path: path, prevHash: Genesis}
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		l.prevHash = e.Hash
		l.seq = e.Seq
	}
	_ = f.Close()
	return l, nil
}

// Append writes one entry, chaining it from the previous tip.
func (l *FileLog) Append(ctx context.Context, actor, action string, payload map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := Event{
		Seq:       l.seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Actor:     actor,
		Action:    action,
		Payload:   redactPayload(payload),
		PrevHash:  l.prevHash,
	}
	h, err := canonicalHash(e)
	if err != nil {
		l.seq--
		return Event{}, err
	}
	e.Hash = h

	data, err := json.Marshal(e)
	if err != nil {
		l.seq--
		return Event{}, fmt.Errorf("audit: marshal: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		l.seq--
		return Event{}, fmt.Errorf("audit: open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.seq--
		return Event{}, fmt.Errorf("audit: write: %w", err)
	}
	l.prevHash = e.Hash
	return e, nil
}

// Entries reads the full chain back from disk in append order.
func (l *FileLog) Entries() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return out, fmt.Errorf("audit: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// MemoryLog is a transient, in-process chain used in tests and for
// components that don't need durability across restarts.
type MemoryLog struct {
	mu       sync.Mutex
	entries  []Event
	prevHash string
	seq      int64
}

// NewMemoryLog constructs an empty chain.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{prevHash: Genesis}
}

func (l *MemoryLog) Append(ctx context.Context, actor, action string, payload map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := Event{
		Seq:       l.seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Actor:     actor,
		Action:    action,
		Payload:   redactPayload(payload),
		PrevHash:  l.prevHash,
	}
	h, err := canonicalHash(e)
	if err != nil {
		l.seq--
		return Event{}, err
	}
	e.Hash = h
	l.entries = append(l.entries, e)
	l.prevHash = e.Hash
	return e, nil
}

func (l *MemoryLog) Entries() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// VerifyChain re-derives each entry's hash from its content and confirms
// PrevHash linkage, detecting tampering or gaps anywhere in the chain.
func VerifyChain(entries []Event) error {
	prev := Genesis
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("audit: entry %d: prevHash mismatch: got %s want %s", i, e.PrevHash, prev)
		}
		want, err := canonicalHash(e)
		if err != nil {
			return fmt.Errorf("audit: entry %d: %w", i, err)
		}
		if want != e.Hash {
			return fmt.Errorf("audit: entry %d: hash mismatch: got %s want %s", i, e.Hash, want)
		}
		prev = e.Hash
	}
	return nil
}
