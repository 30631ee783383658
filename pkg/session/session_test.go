package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
)

func TestIssueAndResolve(t *testing.T) {
	iss := NewIssuer()
	token, exp, err := iss.Issue(envelope.ScopeDirect, time.Minute)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	b, ok := iss.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, envelope.ScopeDirect, b.Scope)
}

func TestResolveExpired(t *testing.T) {
	fakeNow := time.Now()
	iss := NewIssuer().WithClock(func() time.Time { return fakeNow })
	token, _, err := iss.Issue(envelope.ScopePublic, time.Minute)
	require.NoError(t, err)

	fakeNow = fakeNow.Add(2 * time.Minute)
	_, err = iss.ResolveErr(token)
	require.Error(t, err)
	reason, ok := envelope.RejectReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonExpiredToken, reason)
}

func TestResolveUnknown(t *testing.T) {
	iss := NewIssuer()
	_, err := iss.ResolveErr("does-not-exist")
	require.Error(t, err)
	reason, _ := envelope.RejectReasonOf(err)
	assert.Equal(t, envelope.ReasonUnknownToken, reason)
}

func TestLifetimeCappedAtMax(t *testing.T) {
	fakeNow := time.Now()
	iss := NewIssuer().WithClock(func() time.Time { return fakeNow })
	_, exp, err := iss.Issue(envelope.ScopeDirect, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, exp.Sub(fakeNow) <= MaxLifetime)
}
