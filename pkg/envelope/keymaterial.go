package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// KeyMaterialFromHex builds a KeyMaterial for scope from hex-encoded
// key material as loaded from the DIRECT_RPC_*/PUBLIC_RPC_* environment
// variables, per spec.md §6. Any of the three may be empty; a process
// populates only the side(s) it needs (a signer needs the private key, a
// verifier needs the public key, either may use the legacy HMAC secret
// instead of Ed25519). Grounded on the teacher's hex.DecodeString key
// material convention (core/pkg/crypto/signer.go, verifier.go).
func KeyMaterialFromHex(scope Scope, privHex, pubHex, hmacHex string) (KeyMaterial, error) {
	km := KeyMaterial{Scope: scope}
	if privHex != "" {
		raw, err := hex.DecodeString(privHex)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("envelope: decode private key: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return KeyMaterial{}, fmt.Errorf("envelope: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		km.Ed25519Private = ed25519.PrivateKey(raw)
	}
	if pubHex != "" {
		raw, err := hex.DecodeString(pubHex)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("envelope: decode public key: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return KeyMaterial{}, fmt.Errorf("envelope: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		km.Ed25519Public = ed25519.PublicKey(raw)
	}
	if hmacHex != "" {
		raw, err := hex.DecodeString(hmacHex)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("envelope: decode hmac secret: %w", err)
		}
		km.HMACSecret = raw
	}
	return km, nil
}
