package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	t.Run("reuses incoming header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "upstream-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "upstream-42" {
			t.Fatalf("context request id = %q, want upstream-42", seen)
		}
		if rec.Header().Get("X-Request-Id") != "upstream-42" {
			t.Fatalf("response header = %q", rec.Header().Get("X-Request-Id"))
		}
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if seen == "" {
			t.Fatal("expected a generated request id in context")
		}
		if rec.Header().Get("X-Request-Id") != seen {
			t.Fatalf("header %q does not match context id %q", rec.Header().Get("X-Request-Id"), seen)
		}
	})
}
