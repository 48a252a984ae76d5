package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/monitor-car/mcc/internal/config"
)

const testSecret = "test-secret-key"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func validClaims(sub string, scopes ...string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    sub,
		"scopes": scopes,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return privateKey, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestNewVerifier(t *testing.T) {
	_, publicPEM := generateKeyPair(t)

	tests := []struct {
		name    string
		config  VerifierConfig
		wantErr bool
	}{
		{"valid RS256 config", VerifierConfig{Algorithm: "RS256", PublicKeyPEM: publicPEM}, false},
		{"RS256 without key", VerifierConfig{Algorithm: "RS256"}, true},
		{"RS256 with garbage key", VerifierConfig{Algorithm: "RS256", PublicKeyPEM: "not pem"}, true},
		{"valid HS256 config", VerifierConfig{Algorithm: "HS256", SecretKey: testSecret}, false},
		{"HS256 without secret", VerifierConfig{Algorithm: "HS256"}, true},
		{"invalid algorithm", VerifierConfig{Algorithm: "ES256"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := NewVerifier(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && verifier == nil {
				t.Error("NewVerifier() returned nil verifier")
			}
		})
	}
}

func TestVerifyHS256Token(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	claims, err := verifier.VerifyToken(signHS256(t, validClaims("operator-1", ScopeRead, ScopeTelemetry)))
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Errorf("Expected subject 'operator-1', got '%s'", claims.Subject)
	}
	if !claims.Has(ScopeRead) || !claims.Has(ScopeTelemetry) || claims.Has(ScopeControl) {
		t.Errorf("Unexpected scopes %v", claims.Scopes)
	}
}

func TestVerifyOAuthScopeString(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	token := signHS256(t, jwt.MapClaims{
		"sub":   "robot-ui",
		"scope": "read control",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if !claims.Has(ScopeControl) {
		t.Errorf("Expected control scope, got %v", claims.Scopes)
	}
}

func TestVerifyRS256Token(t *testing.T) {
	privateKey, publicPEM := generateKeyPair(t)

	verifier, err := NewVerifier(VerifierConfig{Algorithm: "RS256", PublicKeyPEM: publicPEM})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256,
		validClaims("admin-456", ScopeRead, ScopeControl, ScopeTelemetry)).SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	claims, err := verifier.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "admin-456" {
		t.Errorf("Expected subject 'admin-456', got '%s'", claims.Subject)
	}
	if len(claims.Scopes) != 3 {
		t.Errorf("Expected 3 scopes, got %d", len(claims.Scopes))
	}

	// An HS256 token must not pass an RS256 verifier.
	if _, err := verifier.VerifyToken(signHS256(t, validClaims("x", ScopeRead))); err == nil {
		t.Error("Expected HS256 token to be rejected")
	}
}

func TestVerifyIssuer(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret, Issuer: "mcc"})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	good := validClaims("a", ScopeRead)
	good["iss"] = "mcc"
	if _, err := verifier.VerifyToken(signHS256(t, good)); err != nil {
		t.Errorf("Expected matching issuer to pass, got %v", err)
	}

	bad := validClaims("a", ScopeRead)
	bad["iss"] = "someone-else"
	if _, err := verifier.VerifyToken(signHS256(t, bad)); err == nil {
		t.Error("Expected foreign issuer to be rejected")
	}
}

func TestVerifyTokenErrors(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	expired := validClaims("user-123", ScopeRead)
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user-123", ScopeRead)).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	tests := []struct {
		name        string
		tokenString string
	}{
		{"empty token", ""},
		{"invalid token format", "invalid.token.here"},
		{"wrong key", wrongKey},
		{"expired token", signHS256(t, expired)},
		{"missing subject", signHS256(t, jwt.MapClaims{"scopes": []string{ScopeRead}})},
		{"missing scopes", signHS256(t, jwt.MapClaims{"sub": "user-123"})},
		{"unknown scope", signHS256(t, validClaims("user-123", "admin"))},
		{"scopes not strings", signHS256(t, jwt.MapClaims{"sub": "user-123", "scopes": []int{1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyToken(tt.tokenString)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("VerifyToken() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestVerifierConfigFrom(t *testing.T) {
	_, publicPEM := generateKeyPair(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(publicPEM), 0o600); err != nil {
		t.Fatal(err)
	}

	vc, err := VerifierConfigFrom(config.AuthConfig{Enabled: true, Algorithm: "RS256", PublicKeyFile: path, Issuer: "mcc"})
	if err != nil {
		t.Fatalf("VerifierConfigFrom() error = %v", err)
	}
	if vc.PublicKeyPEM != publicPEM || vc.Issuer != "mcc" {
		t.Errorf("Unexpected verifier config %+v", vc)
	}
	if _, err := NewVerifier(vc); err != nil {
		t.Errorf("NewVerifier() error = %v", err)
	}

	if _, err := VerifierConfigFrom(config.AuthConfig{Algorithm: "RS256", PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Error("Expected missing key file to fail")
	}
}
