package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestNewJWTAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewJWTAuthenticator(""); err == nil {
		t.Error("NewJWTAuthenticator(\"\") did not return an error")
	}
}

func TestValidate(t *testing.T) {
	a, err := NewJWTAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator() error = %v", err)
	}

	tests := []struct {
		name   string
		userID string
		token  string
		want   bool
	}{
		{
			name:   "valid token",
			userID: "user-1",
			token:  signToken(t, testSecret, "user-1", time.Now().Add(time.Hour)),
			want:   true,
		},
		{
			name:   "subject mismatch",
			userID: "user-2",
			token:  signToken(t, testSecret, "user-1", time.Now().Add(time.Hour)),
			want:   false,
		},
		{
			name:   "expired token",
			userID: "user-1",
			token:  signToken(t, testSecret, "user-1", time.Now().Add(-time.Minute)),
			want:   false,
		},
		{
			name:   "missing expiry",
			userID: "user-1",
			token:  signToken(t, testSecret, "user-1", time.Time{}),
			want:   false,
		},
		{
			name:   "wrong secret",
			userID: "user-1",
			token:  signToken(t, "other-secret", "user-1", time.Now().Add(time.Hour)),
			want:   false,
		},
		{
			name:   "garbage token",
			userID: "user-1",
			token:  "not.a.jwt",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Validate(context.Background(), tt.userID, tt.token)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}
