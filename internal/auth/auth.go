// Package auth validates client credentials during the connection handshake.
//
// The messaging core never issues tokens; an external identity service does.
// This package only checks that a presented token is genuine and belongs to
// the claimed user.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates that a token proves ownership of a user id.
type Authenticator interface {
	Validate(ctx context.Context, userID, token string) (bool, error)
}

// JWTAuthenticator validates HS256 session tokens minted by the identity
// service with a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator for the given signing secret.
func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTAuthenticator{secret: []byte(secret)}, nil
}

// Validate parses the token, verifies the signature and expiry, and checks
// that its subject matches the claimed user id. A well-formed token for a
// different user is a rejection, not an error.
func (a *JWTAuthenticator) Validate(_ context.Context, userID, token string) (bool, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return false, nil
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return false, nil
	}
	return sub == userID, nil
}
