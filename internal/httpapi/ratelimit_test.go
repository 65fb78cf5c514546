package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 2)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("a") || !limiter.allow("a") {
		t.Fatalf("burst of two must pass")
	}
	if limiter.allow("a") {
		t.Fatalf("third request must be limited")
	}
	if !limiter.allow("b") {
		t.Fatalf("buckets are per key")
	}
	now = now.Add(time.Second)
	if !limiter.allow("a") {
		t.Fatalf("one token refills per second at 60/min")
	}
}

func TestKioskMiddlewareLimitsByAddress(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{KioskPerMinute: 1, KioskBurst: 1})
	handler := limiter.KioskMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/kiosk/tickets", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("10.0.0.1:5000"); code != http.StatusNoContent {
		t.Fatalf("first request: %d", code)
	}
	if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same host must be limited, got %d", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusNoContent {
		t.Fatalf("other host: %d", code)
	}
}
