package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/avivsinai/telclaude-sub003/pkg/api"
)

// Claims are the claims expected on an admin console JWT.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Validator parses and validates admin JWTs. Grounded on
// core/pkg/auth/middleware.go's JWTValidator.
type Validator struct {
	KeySet KeySet
}

// NewValidator builds a Validator over ks. A nil ks yields a Validator
// that fails closed on every call.
func NewValidator(ks KeySet) *Validator {
	return &Validator{KeySet: ks}
}

// Validate parses and verifies an admin JWT, returning its claims.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, fmt.Errorf("admin: validator uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("admin: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("admin: invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("admin: token subject is required")
	}
	return claims, nil
}

type principalKey struct{}

// WithPrincipal injects the operator's claims into ctx.
func WithPrincipal(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, principalKey{}, c)
}

// PrincipalFromContext extracts the operator's claims from ctx, if any.
func PrincipalFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(principalKey{}).(*Claims)
	return c, ok
}

// RequireOperator wraps next with Bearer-JWT auth, failing closed when the
// validator is unconfigured. Internal scope envelopes (X-Internal-*
// headers) are never accepted here and admin JWTs are never accepted by
// the capability router or agent query server — distinct credential
// types, no shared parsing path.
func RequireOperator(validator *Validator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			api.WriteUnauthorized(w, "missing-headers", "Authorization header required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			api.WriteUnauthorized(w, "missing-headers", "expected Bearer <token>")
			return
		}
		claims, err := validator.Validate(parts[1])
		if err != nil {
			api.WriteUnauthorized(w, "bad-signature", "invalid or expired admin token")
			return
		}
		api.SetScope(r.Context(), "operator")
		api.SetActor(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims)))
	})
}
