package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSignVerifyRoundTripProperty generates random (method, path, body)
// tuples under the direct scope and asserts the sign->verify round trip
// holds for all of them, and that appending a byte to the body after
// signing breaks verification.
func TestSignVerifyRoundTripProperty(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signerKM := KeyMaterial{Scope: ScopeDirect, Ed25519Private: priv}
	verifierKeys := map[Scope]KeyMaterial{ScopeDirect: {Scope: ScopeDirect, Ed25519Public: pub}}

	methods := gen.OneConstOf("GET", "POST", "PUT", "DELETE")
	paths := gen.OneConstOf("/v1/query", "/v1/memory.snapshot", "/v1/session.issue", "/v1/memory.propose")

	properties := gopter.NewProperties(nil)

	properties.Property("sign then verify succeeds for any method/path/body", prop.ForAll(
		func(method, path, body string) bool {
			v := NewVerifier(verifierKeys, NewInMemoryNonceStore(0))
			h, err := Sign(signerKM, method, path, []byte(body), time.Now())
			if err != nil {
				return false
			}
			res, err := v.VerifyHeaders(method, path, []byte(body), h)
			return err == nil && res.Scope == ScopeDirect
		},
		methods, paths, gen.AnyString(),
	))

	properties.Property("tampering with the body after signing breaks verification", prop.ForAll(
		func(method, path, body string) bool {
			v := NewVerifier(verifierKeys, NewInMemoryNonceStore(0))
			h, err := Sign(signerKM, method, path, []byte(body), time.Now())
			if err != nil {
				return false
			}
			tampered := append([]byte(body), 'x')
			_, err = v.VerifyHeaders(method, path, tampered, h)
			return err != nil
		},
		methods, paths, gen.AnyString(),
	))

	properties.TestingRun(t)
}
