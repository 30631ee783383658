package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	signer, pub, err := GenerateEd25519Signer()
	require.NoError(t, err)

	data := []byte("method\n/path\n12345\nnonce\ndirect\nbodyhash")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	assert.True(t, VerifyEd25519(pub, data, sig))
	assert.False(t, VerifyEd25519(pub, append(data, 'x'), sig))
}

func TestHMACSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("root-secret-material")
	signer, err := NewHMACSigner(secret, "direct")
	require.NoError(t, err)

	data := []byte("payload")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	assert.True(t, VerifyHMAC(secret, "direct", data, sig))
	assert.False(t, VerifyHMAC(secret, "public", data, sig), "derived key must differ per scope")
	assert.False(t, VerifyHMAC(secret, "direct", []byte("tampered"), sig))
}

func TestDeriveScopeKeyIsScopeSpecific(t *testing.T) {
	secret := []byte("root-secret-material")
	kDirect, err := DeriveScopeKey(secret, "direct")
	require.NoError(t, err)
	kPublic, err := DeriveScopeKey(secret, "public")
	require.NoError(t, err)
	assert.NotEqual(t, kDirect, kPublic)
}
