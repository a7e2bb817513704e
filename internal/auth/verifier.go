// Package auth gates the mutating control endpoints behind an optional
// shared-secret JWT. Deployments on a trusted network leave
// AUTH_JWT_SECRET unset and the verifier passes everything through.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret  []byte
	enabled bool
}

// NewVerifierFromEnv builds a verifier from AUTH_JWT_SECRET. An empty
// secret disables verification entirely.
func NewVerifierFromEnv() *Verifier {
	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if secret == "" {
		return &Verifier{enabled: false}
	}
	return &Verifier{secret: []byte(secret), enabled: true}
}

// Enabled reports whether tokens are being checked.
func (v *Verifier) Enabled() bool {
	return v != nil && v.enabled
}

// VerifyToken parses and validates one HS256 token.
func (v *Verifier) VerifyToken(tokenStr string) (jwt.MapClaims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, errors.New("token is empty")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// VerifyRequest checks the Authorization header of one request. Always
// nil when the verifier is disabled.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	if !v.Enabled() {
		return nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return errors.New("missing Authorization header")
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == header {
		return errors.New("Authorization header is not a bearer token")
	}

	_, err := v.VerifyToken(tokenStr)
	return err
}
