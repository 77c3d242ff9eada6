package store

import (
	"strings"
	"testing"
	"time"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, nil)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected JWT shape, got %q", token)
	}

	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user id: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("unexpected result: ok=%v userID=%q", ok, userID)
	}
}

func TestJWTSessionRejectsTamperedToken(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, nil)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, ok, _ := s.GetUserIDByToken(tampered); ok {
		t.Fatalf("tampered token accepted")
	}
}

func TestJWTSessionRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-a", time.Hour, nil)
	verifier := NewJWTSessionStore("secret-b", time.Hour, nil)

	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.GetUserIDByToken(token); ok {
		t.Fatalf("token signed with another secret accepted")
	}
}

func TestJWTSessionRejectsExpiredToken(t *testing.T) {
	s := NewJWTSessionStore("test-secret", -time.Hour, nil)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expired token accepted")
	}
}

func TestJWTSessionDeleteRevokesToken(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, NewMemoryTokenRevoker())

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); !ok {
		t.Fatalf("token should be valid before logout")
	}

	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("token still valid after logout")
	}
}

func TestJWTSessionRevocationIsPerToken(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Hour, NewMemoryTokenRevoker())

	first, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	if err := s.DeleteSession(first); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(first); ok {
		t.Fatalf("revoked token accepted")
	}
	if _, ok, _ := s.GetUserIDByToken(second); !ok {
		t.Fatalf("unrelated session revoked")
	}
}
