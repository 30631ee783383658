package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMaterialFromHexDecodesEd25519AndHMAC(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	km, err := KeyMaterialFromHex(ScopeDirect,
		hex.EncodeToString(priv), hex.EncodeToString(pub), hex.EncodeToString([]byte("hmac-secret")))
	require.NoError(t, err)
	assert.Equal(t, ScopeDirect, km.Scope)
	assert.Equal(t, priv, km.Ed25519Private)
	assert.Equal(t, pub, km.Ed25519Public)
	assert.Equal(t, []byte("hmac-secret"), km.HMACSecret)
}

func TestKeyMaterialFromHexAllowsPartialMaterial(t *testing.T) {
	km, err := KeyMaterialFromHex(ScopePublic, "", "", hex.EncodeToString([]byte("shared")))
	require.NoError(t, err)
	assert.Nil(t, km.Ed25519Private)
	assert.Nil(t, km.Ed25519Public)
	assert.Equal(t, []byte("shared"), km.HMACSecret)
}

func TestKeyMaterialFromHexRejectsWrongLength(t *testing.T) {
	_, err := KeyMaterialFromHex(ScopeDirect, hex.EncodeToString([]byte("too-short")), "", "")
	require.Error(t, err)
}
