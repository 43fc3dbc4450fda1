package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(cfg, slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	req.RemoteAddr = addr
	return req
}

// TestRateLimitMiddleware_AllowsRequestsWithinLimit はバースト内のリクエストが通過することを検証する。
func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, PerMinute(5))
	handler := rl.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("198.51.100.1:1000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

// TestRateLimitMiddleware_Returns429WhenLimitExceeded は上限超過で429とRetry-Afterが返ることを検証する。
func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{Rate: rate.Limit(0.5), Burst: 2})
	handler := rl.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.1:1000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.1:1000"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// 0.5 req/sec なら1トークンの補充に2秒
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 response is not JSON: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

// TestRateLimitMiddleware_IsolatesClients はIPごとに独立して制限されることを検証する。
func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, PerMinute(1))
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.1:1000"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.1:2000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same IP different port: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.2:1000"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Code)
	}

	if n := rl.LimiterCount(); n != 2 {
		t.Errorf("LimiterCount = %d, want 2", n)
	}
}

// TestRateLimiter_CleanupRemovesExpiredEntries は古いエントリが削除されることを検証する。
func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := PerMinute(10)
	cfg.CleanupInterval = time.Minute
	rl := newTestRateLimiter(t, cfg)

	rl.getOrCreateLimiter("198.51.100.1")
	rl.getOrCreateLimiter("198.51.100.2")

	rl.cleanup(time.Now().Add(30 * time.Second))
	if n := rl.LimiterCount(); n != 2 {
		t.Fatalf("LimiterCount = %d, want 2 before ttl", n)
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if n := rl.LimiterCount(); n != 0 {
		t.Errorf("LimiterCount = %d, want 0 after ttl", n)
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(30)
	if cfg.Rate != rate.Limit(0.5) {
		t.Errorf("Rate = %v, want 0.5", cfg.Rate)
	}
	if cfg.Burst != 30 {
		t.Errorf("Burst = %d, want 30", cfg.Burst)
	}

	if got := PerMinute(0); got.Burst != 1 {
		t.Errorf("PerMinute(0).Burst = %d, want 1", got.Burst)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.Burst != 10 {
		t.Errorf("Burst = %d, want 10", cfg.Burst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

// TestRateLimiter_StopReleasesGoroutine はStopでクリーンアップのゴルーチンが終了することを検証する。
func TestRateLimiter_StopReleasesGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(DefaultRateLimiterConfig(), slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
	rl.Stop()
	rl.Stop()
}
