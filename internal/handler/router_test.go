package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/middleware"
	"github.com/hitoshi/newsletter/internal/subscription"
	"github.com/prometheus/client_golang/prometheus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRouterDeps() *RouterDeps {
	return &RouterDeps{
		Logger: discardLogger(),
		SubscriptionService: &mockSubscriptionService{
			subscribeFn: func(ctx context.Context, form subscription.Form) (string, error) {
				return "sub-id-1", nil
			},
		},
		ConfirmationService: &mockConfirmationService{},
		NewsletterService:   &mockNewsletterService{},
		DB:                  PingerFunc(func(ctx context.Context) error { return nil }),
	}
}

func TestNewRouter_Routes(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"subscribe", http.MethodPost, "/subscriptions", "name=a&email=a%40b.c", http.StatusOK},
		{"confirm", http.MethodGet, "/subscriptions/confirm?subscription_token=abc", "", http.StatusOK},
		{"confirm without token", http.MethodGet, "/subscriptions/confirm", "", http.StatusBadRequest},
		{"publish without auth", http.MethodPost, "/newsletters", validNewsletterBody, http.StatusUnauthorized},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/newsletters", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.method == http.MethodPost && strings.HasPrefix(tt.target, "/subscriptions") {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_AppliesSecurityHeaders(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestNewRouter_RecoversFromPanic(t *testing.T) {
	deps := newTestRouterDeps()
	deps.SubscriptionService = &mockSubscriptionService{
		subscribeFn: func(ctx context.Context, form subscription.Form) (string, error) {
			panic("unexpected")
		},
	}
	router := NewRouter(deps)

	req := newSubscribeRequest(url.Values{"name": {"a"}, "email": {"a@b.c"}})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := newTestRouterDeps()
	deps.Metrics = metrics.NewCollector(reg)
	deps.MetricsGatherer = reg
	router := NewRouter(deps)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "newsletter_http_responses_total") {
		t.Errorf("metrics output missing newsletter_http_responses_total:\n%s", w.Body.String())
	}
}

func TestNewRouter_NoGatherer_MetricsNotMounted(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_RateLimitsSubscribeOnly(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.PerMinute(1), discardLogger())
	t.Cleanup(limiter.Stop)

	deps := newTestRouterDeps()
	deps.RateLimiter = limiter
	router := NewRouter(deps)

	subscribe := func() int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, newSubscribeRequest(url.Values{"name": {"a"}, "email": {"a@b.c"}}))
		return w.Code
	}

	if got := subscribe(); got != http.StatusOK {
		t.Fatalf("first subscribe status = %d, want %d", got, http.StatusOK)
	}
	if got := subscribe(); got != http.StatusTooManyRequests {
		t.Fatalf("second subscribe status = %d, want %d", got, http.StatusTooManyRequests)
	}

	// 他のエンドポイントには影響しない
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET /health status = %d, want %d", w.Code, http.StatusOK)
		}
	}
}

func TestNewRouter_TrustProxyHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		wantSecond int
	}{
		{"forwarded address used", true, http.StatusOK},
		{"forwarded address ignored", false, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := middleware.NewRateLimiter(middleware.PerMinute(1), discardLogger())
			t.Cleanup(limiter.Stop)

			deps := newTestRouterDeps()
			deps.RateLimiter = limiter
			deps.TrustProxyHeaders = tt.trust
			router := NewRouter(deps)

			send := func(forwardedFor string) int {
				req := newSubscribeRequest(url.Values{"name": {"a"}, "email": {"a@b.c"}})
				req.Header.Set("X-Forwarded-For", forwardedFor)
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				return w.Code
			}

			if got := send("203.0.113.1"); got != http.StatusOK {
				t.Fatalf("first status = %d, want %d", got, http.StatusOK)
			}
			if got := send("203.0.113.2"); got != tt.wantSecond {
				t.Errorf("second status = %d, want %d", got, tt.wantSecond)
			}
		})
	}
}
