package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"simulate": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("simulate")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/migrations/simulate", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"plan":     {RequestsPerMinute: 1, Burst: 1},
		"simulate": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	plan := limiter.Middleware("plan")(okHandler())
	simulate := limiter.Middleware("simulate")(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/v1/migrations/plan", nil)
	reqA.Header.Set("X-Real-IP", "10.0.0.1")
	for _, h := range []http.Handler{plan, simulate} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, reqA)
		if res.Code != http.StatusOK {
			t.Fatalf("expected first request per route to succeed, got %d", res.Code)
		}
	}

	reqB := httptest.NewRequest(http.MethodPost, "/v1/migrations/plan", nil)
	reqB.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.99")
	res := httptest.NewRecorder()
	plan.ServeHTTP(res, reqB)
	if res.Code != http.StatusOK {
		t.Fatalf("expected a second client to have its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"plan": {RequestsPerMinute: 1, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("plan")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/migrations/plan", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	now = now.Add(10 * time.Minute)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected refreshed bucket after idle eviction, got %d", res.Code)
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected stale visitor to be evicted, have %d", len(limiter.visitors))
	}
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("fee")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/fee", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", res.Code)
		}
	}
}
