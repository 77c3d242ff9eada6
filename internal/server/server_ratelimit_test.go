package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"epubshelf/internal/app"
	"epubshelf/pkg/storage"
	"epubshelf/pkg/store"
)

func TestLoginRateLimit(t *testing.T) {
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := app.New(app.Config{
		SecretKey:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: time.Hour,
		Store:           store.NewMemoryStore(),
		Blobs:           blobs,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)

	srv, err := New(Config{
		App:                        a,
		RedisAddr:                  redis.Addr(),
		RegisterRateLimitPerMinute: 10,
		LoginRateLimitPerMinute:    1,
		RefreshRateLimitPerMinute:  10,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := []byte(`{"email":"u@example.com","password":"longenough1"}`)
	resp1, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first login request failed: %v", err)
	}
	resp1.Body.Close()
	if resp1.StatusCode == http.StatusTooManyRequests {
		t.Fatalf("first request unexpectedly rate limited")
	}

	resp2, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second login request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
	if got := resp2.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After header: %q", got)
	}
}
