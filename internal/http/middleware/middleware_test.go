package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/dental-collections/pkg/logging"
)

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, `"level":"INFO"`},
		{http.StatusNotFound, `"level":"WARN"`},
		{http.StatusBadGateway, `"level":"ERROR"`},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := logging.NewWithOptions(logging.Options{Level: "debug", Format: "json", Output: &buf})
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		req := httptest.NewRequest(http.MethodGet, "/admin/pending-calls", nil)
		req.Header.Set("X-Request-ID", "req-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		out := buf.String()
		if !strings.Contains(out, tc.level) {
			t.Fatalf("status %d: expected %s in %s", tc.status, tc.level, out)
		}
		if !strings.Contains(out, `"request_id":"req-1"`) {
			t.Fatalf("expected request id in log, got %s", out)
		}
		if rec.Header().Get("X-Request-ID") != "req-1" {
			t.Fatalf("expected request id echoed")
		}
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("expected independent bucket per ip")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatalf("expected refill after one second")
	}

	now = now.Add(time.Hour)
	if n := rl.Evict(10 * time.Minute); n != 2 {
		t.Fatalf("expected two idle clients evicted, got %d", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", second.Code)
	}
}
