package admin

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestStaticKeySetVerifiesExternallySignedToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "admin.pub")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(pub)), 0600))

	ks, err := LoadStaticKeySetFile(path)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{Subject: "operator-1"})
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	v := NewValidator(ks)
	claims, err := v.Validate(signed)
	require.NoError(t, err)
	require.Equal(t, "operator-1", claims.Subject)
}

func TestStaticKeySetRejectsWrongKey(t *testing.T) {
	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "admin.pub")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(pub)), 0600))

	ks, err := LoadStaticKeySetFile(path)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{Subject: "operator-1"})
	signed, err := token.SignedString(wrongPriv)
	require.NoError(t, err)

	v := NewValidator(ks)
	_, err = v.Validate(signed)
	require.Error(t, err)
}

func TestStaticKeySetCannotSignOrRotate(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ks := NewStaticKeySet(pub)

	_, err = ks.Sign(context.Background(), jwt.RegisteredClaims{})
	require.Error(t, err)

	_, err = ks.Rotate()
	require.Error(t, err)
}
