package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogChainsAndVerifies(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	e1, err := l.Append(ctx, "actor-1", "egress.blocked", map[string]any{"url": "http://metadata.google.internal/"})
	require.NoError(t, err)
	assert.Equal(t, Genesis, e1.PrevHash)

	e2, err := l.Append(ctx, "actor-1", "egress.blocked", map[string]any{"url": "http://169.254.169.254/"})
	require.NoError(t, err)
	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.NotEqual(t, e1.Hash, e2.Hash)

	entries, err := l.Entries()
	require.NoError(t, err)
	require.NoError(t, VerifyChain(entries))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_, err := l.Append(ctx, "actor-1", "capability.denied", map[string]any{"scope": "private"})
	require.NoError(t, err)

	entries, err := l.Entries()
	require.NoError(t, err)
	entries[0].Action = "tampered"

	require.Error(t, VerifyChain(entries))
}

func TestRedactPayloadStripsSecretsFromStringValues(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	e, err := l.Append(ctx, "actor-1", "debug.echo", map[string]any{
		"note": "sk-ant-REDACTED",
	})
	require.NoError(t, err)
	assert.NotContains(t, e.Payload["note"], "sk-ant-REDACTED")
}

func TestFileLogPersistsAndResumesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	ctx := context.Background()

	l1, err := NewFileLog(path)
	require.NoError(t, err)
	_, err = l1.Append(ctx, "actor-1", "egress.blocked", map[string]any{"url": "http://metadata.google.internal/"})
	require.NoError(t, err)

	l2, err := NewFileLog(path)
	require.NoError(t, err)
	e2, err := l2.Append(ctx, "actor-1", "egress.blocked", map[string]any{"url": "http://169.254.169.254/"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Seq)

	entries, err := l2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, VerifyChain(entries))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
