// Package attachment issues and resolves opaque, HMAC-signed, TTL'd
// attachment refs of the form att_<8 hex>.<10-digit unix sec>.<16 hex>,
// binding the bearer to exactly one stored artifact under one actor.
// Grounded on core/pkg/artifacts/store.go's FileStore for the local blob
// backend (content-addressed, atomic temp-then-rename write), adapted
// here from pure content addressing to the spec's signed-handle scheme;
// the ref's own identity component is a random 8-hex id rather than a
// content hash, since attachment_refs rows (not the ref string) own the
// backend location.
package attachment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/store"
)

const DefaultTTL = 15 * time.Minute

// Ref is a parsed attachment reference.
type Ref struct {
	ID        string
	ExpiresAt time.Time
	Sig       string
}

// Record is the resolved metadata behind a Ref.
type Record struct {
	Ref       string
	ActorID   string
	Provider  string
	Filepath  string
	Filename  string
	MimeType  string
	ExpiresAt time.Time
}

var (
	ErrMalformed = fmt.Errorf("attachment: malformed ref")
	ErrExpired   = fmt.Errorf("attachment: ref expired")
	ErrBadSig    = fmt.Errorf("attachment: signature mismatch")
	ErrNotFound  = fmt.Errorf("attachment: ref not found")
)

// Issuer mints and verifies attachment refs and records their metadata
// in the persistent store.
type Issuer struct {
	db     *store.DB
	secret []byte
	now    func() time.Time
}

// New constructs an Issuer. secret is the HMAC root used to sign refs;
// it should be distinct from the internal-envelope HMAC secret.
func New(db *store.DB, secret []byte) *Issuer {
	return &Issuer{db: db, secret: secret, now: time.Now}
}

func randomHex8() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("attachment: random id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (i *Issuer) sign(id string, expiresAtSec int64, actorID, provider, filepath, filename, mimeType string) string {
	mac := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(mac, "att_%s.%d|%s|%s|%s|%s|%s", id, expiresAtSec, actorID, provider, filepath, filename, mimeType)
	full := hex.EncodeToString(mac.Sum(nil))
	return full[:16]
}

// Issue creates a new attachment ref bound to actorID/provider/filepath.
func (i *Issuer) Issue(ctx context.Context, actorID, provider, filepath, filename, mimeType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id, err := randomHex8()
	if err != nil {
		return "", err
	}
	expiresAt := i.now().Add(ttl)
	expiresAtSec := expiresAt.Unix()
	sig := i.sign(id, expiresAtSec, actorID, provider, filepath, filename, mimeType)
	ref := fmt.Sprintf("att_%s.%010d.%s", id, expiresAtSec, sig)

	q := fmt.Sprintf(`INSERT INTO attachment_refs (ref, actor_id, provider, filepath, filename, mime_type, expires_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		i.db.Placeholder(1), i.db.Placeholder(2), i.db.Placeholder(3),
		i.db.Placeholder(4), i.db.Placeholder(5), i.db.Placeholder(6), i.db.Placeholder(7))
	if _, err := i.db.ExecContext(ctx, q, ref, actorID, provider, filepath, filename, mimeType, expiresAt.UnixMilli()); err != nil {
		return "", fmt.Errorf("attachment: record ref: %w", err)
	}
	return ref, nil
}

// Parse splits a ref string into its three dot-separated components
// without touching the store, for cheap structural validation.
func Parse(ref string) (Ref, error) {
	if !strings.HasPrefix(ref, "att_") {
		return Ref{}, ErrMalformed
	}
	rest := strings.TrimPrefix(ref, "att_")
	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return Ref{}, ErrMalformed
	}
	if len(parts[0]) != 8 || len(parts[1]) != 10 || len(parts[2]) != 16 {
		return Ref{}, ErrMalformed
	}
	if _, err := hex.DecodeString(parts[0]); err != nil {
		return Ref{}, ErrMalformed
	}
	sec, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Ref{}, ErrMalformed
	}
	if _, err := hex.DecodeString(parts[2]); err != nil {
		return Ref{}, ErrMalformed
	}
	return Ref{ID: parts[0], ExpiresAt: time.Unix(sec, 0), Sig: parts[2]}, nil
}

// Resolve verifies signature, expiry, and looks up the bound artifact
// metadata. actorID must match the actor the ref was issued to.
func (i *Issuer) Resolve(ctx context.Context, ref string, actorID string) (Record, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return Record{}, err
	}
	if i.now().After(parsed.ExpiresAt) {
		return Record{}, ErrExpired
	}

	q := fmt.Sprintf("SELECT ref, actor_id, provider, filepath, filename, mime_type, expires_at FROM attachment_refs WHERE ref = %s", i.db.Placeholder(1))
	row := i.db.QueryRowContext(ctx, q, ref)
	var rec Record
	var expiresAtMs int64
	if err := row.Scan(&rec.Ref, &rec.ActorID, &rec.Provider, &rec.Filepath, &rec.Filename, &rec.MimeType, &expiresAtMs); err != nil {
		return Record{}, ErrNotFound
	}
	rec.ExpiresAt = time.UnixMilli(expiresAtMs)

	if rec.ActorID != actorID {
		return Record{}, ErrNotFound
	}

	expectedSig := i.sign(parsed.ID, parsed.ExpiresAt.Unix(), rec.ActorID, rec.Provider, rec.Filepath, rec.Filename, rec.MimeType)
	if subtle.ConstantTimeCompare([]byte(expectedSig), []byte(parsed.Sig)) != 1 {
		return Record{}, ErrBadSig
	}
	return rec, nil
}
