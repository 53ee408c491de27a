package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"tasktracker/service"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenMalformed(t *testing.T) {
	for _, raw := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer ",
		"Bearer " + strings.Repeat(".", 1000),
		"Bearer only.two",
	} {
		if _, err := bearerToken(raw); !errors.Is(err, errBadAuthorization) {
			t.Fatalf("%q: expected bad auth header error, got %v", raw, err)
		}
	}
}

func TestIdentityFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub":   "user-123",
		"email": "user@example.com",
		"name":  "User",
		"aud":   "api://aud",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := NewAuth(AuthConfig{Audience: "api://aud", Issuer: "https://issuer/", TestSecret: secret})
	id, err := auth.IdentityFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	want := service.Identity{Subject: "user-123", Email: "user@example.com", Name: "User"}
	if id != want {
		t.Fatalf("unexpected identity: %+v", id)
	}

	other := NewAuth(AuthConfig{Audience: "api://other", TestSecret: secret})
	if _, err := other.IdentityFromBearer(signed); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
	wrongKey := NewAuth(AuthConfig{TestSecret: []byte("nope")})
	if _, err := wrongKey.IdentityFromBearer(signed); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestIdentityFromBearerExpired(t *testing.T) {
	secret := []byte("s")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAuth(AuthConfig{TestSecret: secret}).IdentityFromBearer(signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	secret := []byte("dev")
	token, err := SignTestToken(secret, service.Identity{Subject: "dev-user", Name: "Dev"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := NewAuth(AuthConfig{TestSecret: secret}).IdentityFromBearer(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Subject != "dev-user" || id.Name != "Dev" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := SignTestToken(nil, id, time.Minute); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func TestRS256ModeWithoutJWKS(t *testing.T) {
	auth := NewAuth(AuthConfig{})
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.IdentityFromBearer(signed); err == nil {
		t.Fatalf("expected HS256 token to be rejected outside test mode")
	}
}
