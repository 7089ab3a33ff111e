package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken("  "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenMalformed(t *testing.T) {
	for _, h := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer ",
		"Bearer onlyonepart",
		"Bearer " + strings.Repeat(".", 1000),
	} {
		if _, err := bearerToken(h); err == nil || err.Error() != "bad auth header" {
			t.Fatalf("%q: expected bad auth header error, got %v", h, err)
		}
	}
}

func TestUserIDFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewTestAuth(secret, "api://aud", "https://issuer/")

	userID, err := auth.UserIDFromBearer(signHS256(t, secret, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	userID, err = auth.UserIDFromAuthHeader("Bearer " + signHS256(t, secret, validClaims()))
	if err != nil || userID != "user-123" {
		t.Fatalf("header path: got %q, %v", userID, err)
	}
}

func TestUserIDFromBearerRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewTestAuth(secret, "api://aud", "https://issuer/")

	tests := []struct {
		name   string
		secret []byte
		mutate func(jwt.MapClaims)
	}{
		{"wrong secret", []byte("other"), func(jwt.MapClaims) {}},
		{"expired", secret, func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-5 * time.Minute).Unix() }},
		{"missing exp", secret, func(c jwt.MapClaims) { delete(c, "exp") }},
		{"wrong audience", secret, func(c jwt.MapClaims) { c["aud"] = "api://other" }},
		{"wrong issuer", secret, func(c jwt.MapClaims) { c["iss"] = "https://evil/" }},
		{"missing sub", secret, func(c jwt.MapClaims) { delete(c, "sub") }},
		{"empty sub", secret, func(c jwt.MapClaims) { c["sub"] = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			if id, err := auth.UserIDFromBearer(signHS256(t, tt.secret, claims)); err == nil {
				t.Fatalf("expected rejection, got user %q", id)
			}
		})
	}
}

func TestUserIDFromBearerRejectsUnexpectedAlgorithm(t *testing.T) {
	auth := NewAuth(nil, "", "", time.Minute)
	token := signHS256(t, []byte("secret"), validClaims())
	if _, err := auth.UserIDFromBearer(token); err == nil {
		t.Fatalf("expected HS256 token to be rejected by RS256 verifier")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	secret := []byte("dev-secret")
	token, err := SignTestToken(secret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := NewTestAuth(secret, "", "").UserIDFromBearer(token)
	if err != nil || id != "alice" {
		t.Fatalf("expected alice, got %q (%v)", id, err)
	}
	if _, err := SignTestToken(nil, "alice", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
