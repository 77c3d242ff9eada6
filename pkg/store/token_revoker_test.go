package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevoker(t *testing.T) {
	r := NewMemoryTokenRevoker()

	revoked, err := r.IsRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh id should not be revoked: revoked=%v err=%v", revoked, err)
	}

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = r.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got revoked=%v err=%v", revoked, err)
	}
}

func TestMemoryTokenRevokerExpiredEntryForgotten(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-2", -time.Second); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-2")
	if err != nil || revoked {
		t.Fatalf("non-positive ttl should be a no-op: revoked=%v err=%v", revoked, err)
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	r := NewRedisTokenRevoker(client)

	if err := r.Revoke("jti-3", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-3")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got revoked=%v err=%v", revoked, err)
	}

	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-3")
	if err != nil || revoked {
		t.Fatalf("expected entry expired, got revoked=%v err=%v", revoked, err)
	}
}
