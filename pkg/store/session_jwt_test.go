package store

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestJWTStore(t *testing.T, secret string, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(secret, time.Minute, revoker, opts)
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newTestJWTStore(t, "secret-a", nil, JWTOptions{})

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("validate: ok=%v err=%v", ok, err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected subject %q", userID)
	}
}

func TestJWTSessionStoreRequiresSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("  ", time.Minute, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestJWTSessionStoreRejectsForeignSecret(t *testing.T) {
	signing := newTestJWTStore(t, "secret-a", nil, JWTOptions{})
	verify := newTestJWTStore(t, "secret-b", nil, JWTOptions{})

	token, err := signing.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := verify.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected signature mismatch to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing := newTestJWTStore(t, "shared", nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})
	verify := newTestJWTStore(t, "shared", nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b", Leeway: time.Second})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsUnsignedToken(t *testing.T) {
	s := newTestJWTStore(t, "secret-a", nil, JWTOptions{})
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        "jti",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected alg=none to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestJWTStore(t, "secret-a", revoker, JWTOptions{})

	token, err := s.NewSession("user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
	if err := s.DeleteSession("garbage"); err != nil {
		t.Fatalf("deleting an invalid token should be a no-op: %v", err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newTestJWTStore(t, "secret-a", revoker, JWTOptions{})

	token, err := s.NewSession("user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("user-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}

	other, err := s.NewSession("user-other")
	if err != nil {
		t.Fatalf("new session other: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(other); err != nil || !ok {
		t.Fatalf("other user's token should stay valid, ok=%v err=%v", ok, err)
	}
}
