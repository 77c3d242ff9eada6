package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fw, err := NewFixedWindow(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return fw, mr
}

func TestFixedWindowCountsPerKey(t *testing.T) {
	fw, _ := newTestLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !fw.Allow(ctx, "ip-1") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if fw.Allow(ctx, "ip-1") {
		t.Fatalf("request over the limit should be blocked")
	}
	if !fw.Allow(ctx, "ip-2") {
		t.Fatalf("a different key has its own quota")
	}
}

func TestFixedWindowFailsClosed(t *testing.T) {
	fw, mr := newTestLimiter(t, 5)
	mr.Close()
	if fw.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed when redis is unreachable")
	}
}

func TestNewFixedWindowValidation(t *testing.T) {
	if _, err := NewFixedWindow(nil, "p", 1, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewFixedWindow(client, "p", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewFixedWindow(client, "p", 1, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
