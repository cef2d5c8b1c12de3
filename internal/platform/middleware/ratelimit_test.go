package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func rateLimited(t *testing.T, h echo.HandlerFunc, e *echo.Echo, path, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := rateLimited(t, h, e, "/SOAP/iti38", "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := rateLimited(t, h, e, "/SOAP/iti38", "10.0.0.1"); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := rateLimited(t, h, e, "/SOAP/iti38", "10.0.0.1")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if _, err := rateLimited(t, h, e, "/SOAP/iti47", "10.0.0.1"); err != nil {
		t.Fatalf("first client: unexpected error %v", err)
	}
	if _, err := rateLimited(t, h, e, "/SOAP/iti47", "10.0.0.2"); err != nil {
		t.Errorf("second client should have its own bucket, got %v", err)
	}
	if _, err := rateLimited(t, h, e, "/SOAP/iti47", "10.0.0.1"); err == nil {
		t.Error("expected first client to be limited")
	}
}

func TestRateLimit_SkipsPrefixes(t *testing.T) {
	e := echo.New()
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerSecond = 1
	cfg.BurstSize = 1
	h := RateLimit(cfg)(okHandler)

	for i := 0; i < 3; i++ {
		if _, err := rateLimited(t, h, e, "/health", "10.0.0.1"); err != nil {
			t.Fatalf("health check %d was limited: %v", i+1, err)
		}
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{})(okHandler)

	for i := 0; i < 10; i++ {
		rec, err := rateLimited(t, h, e, "/SOAP/iti38", "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("expected no rate limit headers when disabled")
		}
	}
}

func TestLimiterStore_SweepsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	store.now = func() time.Time { return now }

	store.get("10.0.0.1")
	now = now.Add(2 * time.Minute)
	store.get("10.0.0.2")

	if _, ok := store.clients["10.0.0.1"]; ok {
		t.Error("expected idle client to be swept")
	}
	if _, ok := store.clients["10.0.0.2"]; !ok {
		t.Error("expected active client to remain")
	}
}
