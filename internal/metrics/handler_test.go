package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics はスクレイプ結果に登録済みメトリクスが含まれることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSubscription(ResultSuccess)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "newsletter_subscriptions_total") {
		t.Error("response should contain newsletter_subscriptions_total metric")
	}
}

// TestMiddleware_RecordsStatus はハンドラーが返したステータスが記録されることを検証する。
func TestMiddleware_RecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	h := Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/", "/missing", "/"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	ok := findMetric(t, reg, "newsletter_http_responses_total", map[string]string{"status_code": "200"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("200 count = %v, want 2", ok)
	}
	nf := findMetric(t, reg, "newsletter_http_responses_total", map[string]string{"status_code": "404"})
	if nf == nil || nf.GetCounter().GetValue() != 1 {
		t.Errorf("404 count = %v, want 1", nf)
	}
}
