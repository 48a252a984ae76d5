package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/monitor-car/mcc/internal/config"
)

var (
	// ErrUnauthorized marks a missing or unverifiable token.
	ErrUnauthorized = errors.New("UNAUTHORIZED")
	// ErrForbidden marks a verified token lacking a required scope.
	ErrForbidden = errors.New("FORBIDDEN")
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	Algorithm string // "RS256" or "HS256"

	// RS256
	PublicKeyPEM string

	// HS256
	SecretKey string

	// Issuer is checked against "iss" when set.
	Issuer string
}

// VerifierConfigFrom maps the auth section of the container config.
func VerifierConfigFrom(c config.AuthConfig) (VerifierConfig, error) {
	vc := VerifierConfig{
		Algorithm: c.Algorithm,
		SecretKey: c.Secret,
		Issuer:    c.Issuer,
	}
	if c.PublicKeyFile != "" {
		pemData, err := os.ReadFile(c.PublicKeyFile)
		if err != nil {
			return VerifierConfig{}, fmt.Errorf("read public key: %w", err)
		}
		vc.PublicKeyPEM = string(pemData)
	}
	return vc, nil
}

// Verifier handles JWT token verification with support for RS256 and HS256.
type Verifier struct {
	config    VerifierConfig
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "RS256":
		if err := v.loadPublicKeyFromPEM(config.PublicKeyPEM); err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{config.Algorithm})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return extractClaims(claims)
}

func (v *Verifier) key(*jwt.Token) (interface{}, error) {
	if v.config.Algorithm == "RS256" {
		return v.publicKey, nil
	}
	return []byte(v.config.SecretKey), nil
}

// extractClaims reads sub and scopes. Scopes may be a JSON array under
// "scopes" or an OAuth space-separated string under "scope".
func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'sub' claim", ErrUnauthorized)
	}

	var scopes []string
	if raw, ok := claims["scopes"]; ok {
		scopes, err = stringSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid 'scopes' claim: %w", ErrUnauthorized, err)
		}
	} else if s, ok := claims["scope"].(string); ok {
		scopes = strings.Fields(s)
	}
	if !validScopes(scopes) {
		return nil, fmt.Errorf("%w: invalid scopes: %v", ErrUnauthorized, scopes)
	}

	return &Claims{Subject: sub, Scopes: scopes}, nil
}

func stringSlice(value interface{}) ([]string, error) {
	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("not a string array")
	}
}

func validScopes(scopes []string) bool {
	for _, scope := range scopes {
		switch scope {
		case ScopeRead, ScopeControl, ScopeTelemetry:
		default:
			return false
		}
	}
	return len(scopes) > 0
}

// loadPublicKeyFromPEM loads a public key from PEM format.
func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}

	v.publicKey = rsaPub
	return nil
}
