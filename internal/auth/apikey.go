// Package auth provides HTTP authentication middleware for API key and
// JWT-based client authentication.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header for API key authentication
	APIKeyHeader = "X-API-Key"

	principalContextKey contextKey = "principal"
)

// Authentication methods recorded on a Principal.
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string
	Method  string
}

// Authenticator validates API keys and bearer tokens on incoming requests.
// With neither keys nor a JWT manager configured every request passes.
type Authenticator struct {
	keyHashes [][sha256.Size]byte
	jwt       *JWTManager
	skipPaths map[string]bool
}

// NewAuthenticator creates an authenticator for the given API keys. jwt may
// be nil to disable bearer tokens.
func NewAuthenticator(apiKeys []string, jwt *JWTManager) *Authenticator {
	a := &Authenticator{
		jwt: jwt,
		skipPaths: map[string]bool{
			"/healthz": true,
			"/readyz":  true,
		},
	}
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			a.keyHashes = append(a.keyHashes, sha256.Sum256([]byte(k)))
		}
	}
	return a
}

// WithSkipPaths adds paths that bypass authentication
func (a *Authenticator) WithSkipPaths(paths ...string) *Authenticator {
	for _, p := range paths {
		a.skipPaths[p] = true
	}
	return a
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keyHashes) > 0 || a.jwt != nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// Principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="rerankd"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		if !a.validKey(key) {
			return nil, errors.New("invalid API key")
		}
		return &Principal{Subject: "api-key", Method: MethodAPIKey}, nil
	}

	authz := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authz, "Bearer "); ok && a.jwt != nil {
		claims, err := a.jwt.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: claims.Subject, Method: MethodJWT}, nil
	}

	return nil, errors.New("missing credentials")
}

// validKey compares digests in constant time.
func (a *Authenticator) validKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	for _, h := range a.keyHashes {
		if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 {
			return true
		}
	}
	return false
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the caller from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}
