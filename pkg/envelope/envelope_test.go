package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genEd25519(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestSignVerifyRoundTripEd25519(t *testing.T) {
	pub, priv := genEd25519(t)

	signerKM := KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}
	verifierKM := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	body := []byte(`{"prompt":"hi"}`)
	h, err := Sign(signerKM, "POST", "/v1/query", body, time.Now())
	require.NoError(t, err)

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	res, err := v.VerifyHeaders("POST", "/v1/query", body, h)
	require.NoError(t, err)
	assert.Equal(t, ScopeDirect, res.Scope)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	pub, priv := genEd25519(t)
	signerKM := KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}
	verifierKM := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	body := []byte(`{"prompt":"hi"}`)
	h, err := Sign(signerKM, "POST", "/v1/query", body, time.Now())
	require.NoError(t, err)

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	_, err = v.VerifyHeaders("POST", "/v1/query", []byte(`{"prompt":"bye"}`), h)
	require.Error(t, err)
	reason, ok := RejectReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBadSignature, reason)
}

func TestVerifyRejectsScopeDowngrade(t *testing.T) {
	pubDirect, _ := genEd25519(t)
	pubPublic, privPublic := genEd25519(t)

	verifierKM := map[Scope]KeyMaterial{
		ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pubDirect},
		ScopePublic: {Scope: ScopePublic, Ed25519Public: pubPublic},
	}

	body := []byte(`{}`)
	h, err := Sign(KeyMaterial{Scope: ScopePublic, Ed25519Private: privPublic}, "POST", "/v1/x", body, time.Now())
	require.NoError(t, err)
	h.Scope = ScopeDirect // attempt to relabel a public-signed envelope as direct

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	_, err = v.VerifyHeaders("POST", "/v1/x", body, h)
	require.Error(t, err)
	reason, _ := RejectReasonOf(err)
	assert.Equal(t, ReasonBadSignature, reason)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	pub, priv := genEd25519(t)
	verifierKM := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	body := []byte(`{}`)
	old := time.Now().Add(-10 * time.Minute)
	h, err := Sign(KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}, "POST", "/v1/x", body, old)
	require.NoError(t, err)

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	_, err = v.VerifyHeaders("POST", "/v1/x", body, h)
	require.Error(t, err)
	reason, _ := RejectReasonOf(err)
	assert.Equal(t, ReasonStale, reason)
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	pub, priv := genEd25519(t)
	verifierKM := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	body := []byte(`{}`)
	h, err := Sign(KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}, "POST", "/v1/x", body, time.Now())
	require.NoError(t, err)

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	_, err = v.VerifyHeaders("POST", "/v1/x", body, h)
	require.NoError(t, err)

	_, err = v.VerifyHeaders("POST", "/v1/x", body, h)
	require.Error(t, err)
	reason, _ := RejectReasonOf(err)
	assert.Equal(t, ReasonReplay, reason)
}

func TestVerifyRejectsUnknownScope(t *testing.T) {
	pub, priv := genEd25519(t)
	verifierKM := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	body := []byte(`{}`)
	h, err := Sign(KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}, "POST", "/v1/x", body, time.Now())
	require.NoError(t, err)
	h.Scope = "admin"

	v := NewVerifier(verifierKM, NewInMemoryNonceStore(0))
	_, err = v.VerifyHeaders("POST", "/v1/x", body, h)
	require.Error(t, err)
	reason, _ := RejectReasonOf(err)
	assert.Equal(t, ReasonUnknownScope, reason)
}
