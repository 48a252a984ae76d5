package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return NewMiddleware(verifier, nil)
}

func subjectHandler(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(claims.Subject))
}

func TestRequireAuth(t *testing.T) {
	m := newTestMiddleware(t)
	viewer := signHS256(t, validClaims("viewer-1", ScopeRead, ScopeTelemetry))

	tests := []struct {
		name           string
		authHeader     string
		path           string
		expectedStatus int
	}{
		{"valid token", "Bearer " + viewer, "/api/v1/motors", http.StatusOK},
		{"missing auth header", "", "/api/v1/motors", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + viewer, "/api/v1/motors", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", "/api/v1/motors", http.StatusUnauthorized},
		{"invalid token", "Bearer invalid-token", "/api/v1/motors", http.StatusUnauthorized},
		{"health endpoint skips auth", "", "/api/v1/health", http.StatusOK},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, test.path, nil)
			if test.authHeader != "" {
				req.Header.Set("Authorization", test.authHeader)
			}
			w := httptest.NewRecorder()

			handler := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/v1/health" {
					w.WriteHeader(http.StatusOK)
					return
				}
				subjectHandler(w, r)
			})
			handler(w, req)

			if w.Code != test.expectedStatus {
				t.Errorf("Expected status %d, got %d", test.expectedStatus, w.Code)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	m := newTestMiddleware(t)
	viewer := signHS256(t, validClaims("viewer-1", ScopeRead, ScopeTelemetry))
	controller := signHS256(t, validClaims("ctl-1", ScopeRead, ScopeControl))

	tests := []struct {
		name           string
		token          string
		scopes         []string
		expectedStatus int
	}{
		{"viewer reads", viewer, []string{ScopeRead}, http.StatusOK},
		{"viewer cannot control", viewer, []string{ScopeControl}, http.StatusForbidden},
		{"controller controls", controller, []string{ScopeControl}, http.StatusOK},
		{"controller lacks telemetry", controller, []string{ScopeTelemetry}, http.StatusForbidden},
		{"all scopes required", viewer, []string{ScopeRead, ScopeControl}, http.StatusForbidden},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil)
			req.Header.Set("Authorization", "Bearer "+test.token)
			w := httptest.NewRecorder()

			m.Protect(subjectHandler, test.scopes...)(w, req)

			if w.Code != test.expectedStatus {
				t.Errorf("Expected status %d, got %d", test.expectedStatus, w.Code)
			}
		})
	}
}

func TestRequireScopeWithoutAuth(t *testing.T) {
	m := newTestMiddleware(t)
	w := httptest.NewRecorder()
	m.RequireScope(ScopeRead)(subjectHandler)(w, httptest.NewRequest(http.MethodGet, "/api/v1/motors", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestDisabledMiddlewareIsAnonymous(t *testing.T) {
	m := NewMiddleware(nil, nil)
	if m.Enabled() {
		t.Fatal("Expected middleware to be disabled")
	}

	w := httptest.NewRecorder()
	m.Protect(subjectHandler, ScopeControl)(w, httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != AnonymousSubject {
		t.Errorf("Expected subject %q, got %q", AnonymousSubject, w.Body.String())
	}
}

func TestCustomErrorWriter(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	var gotStatus int
	m := NewMiddleware(verifier, func(w http.ResponseWriter, _ *http.Request, status int, _ error) {
		gotStatus = status
		w.WriteHeader(status)
	})

	w := httptest.NewRecorder()
	m.RequireAuth(subjectHandler)(w, httptest.NewRequest(http.MethodGet, "/api/v1/motors", nil))

	if gotStatus != http.StatusUnauthorized {
		t.Errorf("Expected custom writer to see %d, got %d", http.StatusUnauthorized, gotStatus)
	}
}
