// Package auth guards the admin endpoints with a static API key or a signed
// JWT carrying the admin role.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader carries the admin API key.
	APIKeyHeader = "X-API-Key"

	principalContextKey contextKey = "principal"
)

// Principal is the authenticated caller of an admin request.
type Principal struct {
	Subject string
	Method  string // "api_key" or "jwt"
}

// Authenticator checks admin credentials. Either mechanism may be disabled
// by leaving it unset; with both unset every admin request is rejected.
type Authenticator struct {
	apiKey string
	jwt    *JWTManager
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator. jwt may be nil.
func NewAuthenticator(apiKey string, jwt *JWTManager, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{apiKey: apiKey, jwt: jwt, logger: logger.With("component", "auth")}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.apiKey != "" || a.jwt != nil
}

// Authenticate returns the principal for r's credentials.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if !a.Enabled() {
		return nil, errors.New("admin authentication is not configured")
	}

	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		if a.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
			return nil, errors.New("invalid API key")
		}
		return &Principal{Subject: "api-key", Method: "api_key"}, nil
	}

	token, ok := bearerToken(r)
	if !ok {
		return nil, errors.New("missing credentials")
	}
	if a.jwt == nil {
		return nil, errors.New("token authentication is not configured")
	}
	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, errors.New("token does not carry the admin role")
	}
	return &Principal{Subject: claims.Subject, Method: "jwt"}, nil
}

// RequireAdmin is chi middleware rejecting requests without admin
// credentials with 401.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r)
		if err != nil {
			a.logger.Warn("admin_auth_rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the admin principal from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}
