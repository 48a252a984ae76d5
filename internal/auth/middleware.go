package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

// Has reports whether the claims carry scope.
func (c *Claims) Has(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey struct{}

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// AnonymousSubject is the subject attached when authentication is disabled.
const AnonymousSubject = "anonymous"

// ErrorWriter renders an auth failure. The api package supplies its
// response envelope here.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier   *Verifier
	writeError ErrorWriter
}

// NewMiddleware creates auth middleware. A nil verifier disables
// authentication: every request carries anonymous claims with all scopes.
func NewMiddleware(verifier *Verifier, writeError ErrorWriter) *Middleware {
	if writeError == nil {
		writeError = plainError
	}
	return &Middleware{verifier: verifier, writeError: writeError}
}

// Enabled reports whether tokens are verified.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireAuth creates middleware that requires authentication.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next(w, r)
			return
		}

		if m.verifier == nil {
			anon := &Claims{Subject: AnonymousSubject, Scopes: []string{ScopeRead, ScopeControl, ScopeTelemetry}}
			next(w, r.WithContext(WithClaims(r.Context(), anon)))
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			m.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			m.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireScope creates middleware that requires every listed scope.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				m.writeError(w, r, http.StatusUnauthorized, fmt.Errorf("%w: authentication required", ErrUnauthorized))
				return
			}
			for _, scope := range requiredScopes {
				if !claims.Has(scope) {
					m.writeError(w, r, http.StatusForbidden, fmt.Errorf("%w: missing scope %s", ErrForbidden, scope))
					return
				}
			}
			next(w, r)
		}
	}
}

// Protect chains RequireAuth and RequireScope.
func (m *Middleware) Protect(next http.HandlerFunc, scopes ...string) http.HandlerFunc {
	return m.RequireAuth(m.RequireScope(scopes...)(next))
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrUnauthorized)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("%w: invalid Authorization header format", ErrUnauthorized)
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	return token, nil
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFrom returns the claims attached by RequireAuth, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

func plainError(w http.ResponseWriter, _ *http.Request, status int, err error) {
	http.Error(w, err.Error(), status)
}
