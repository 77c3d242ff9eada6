package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func secureHeadersResponse(t *testing.T, mutate func(*http.Request)) http.Header {
	t.Helper()
	handler := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header()
}

func TestWithSecurityHeaders(t *testing.T) {
	headers := secureHeadersResponse(t, nil)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for name, value := range want {
		if got := headers.Get(name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
	if got := headers.Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS should not be set for plain HTTP, got %q", got)
	}
}

func TestWithSecurityHeadersEmitsHSTSForForwardedHTTPS(t *testing.T) {
	headers := secureHeadersResponse(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	if headers.Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS header for forwarded HTTPS")
	}
}
