// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// メール配信経路のラベル値
const (
	ChannelDirect     = "direct"
	ChannelOutbox     = "outbox"
	ChannelNewsletter = "newsletter"
	ChannelRelay      = "relay"
)

// 結果ラベルの値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
	ResultUnknown = "unknown"
	ResultGaveUp  = "gave_up"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSubscription(result string)
	RecordConfirmation(result string)
	RecordEmailDelivery(channel, result string)
	RecordNewsletterRecipients(delivered, skipped, failed int)
	RecordPublishLatency(duration time.Duration)
	SetOutboxPending(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	subscriptions  *prometheus.CounterVec
	confirmations  *prometheus.CounterVec
	emailDelivery  *prometheus.CounterVec
	recipients     *prometheus.CounterVec
	publishLatency prometheus.Histogram
	outboxPending  prometheus.Gauge
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_subscriptions_total",
			Help: "購読登録リクエストの結果別件数",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_confirmations_total",
			Help: "購読確認リクエストの結果別件数",
		}, []string{"result"}),
		emailDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_email_deliveries_total",
			Help: "配信経路と結果別のメール送信数",
		}, []string{"channel", "result"}),
		recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_issue_recipients_total",
			Help: "ニュースレター配信の宛先別結果数",
		}, []string{"outcome"}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsletter_publish_duration_seconds",
			Help:    "ニュースレター配信全体の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsletter_outbox_pending",
			Help: "未送信の送信待ちメール件数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.subscriptions,
		c.confirmations,
		c.emailDelivery,
		c.recipients,
		c.publishLatency,
		c.outboxPending,
		c.httpStatus,
	)

	return c
}

// RecordSubscription は購読登録の結果を記録する。
func (c *Collector) RecordSubscription(result string) {
	c.subscriptions.WithLabelValues(result).Inc()
}

// RecordConfirmation は購読確認の結果を記録する。
func (c *Collector) RecordConfirmation(result string) {
	c.confirmations.WithLabelValues(result).Inc()
}

// RecordEmailDelivery はメール送信の結果を記録する。
func (c *Collector) RecordEmailDelivery(channel, result string) {
	c.emailDelivery.WithLabelValues(channel, result).Inc()
}

// RecordNewsletterRecipients はニュースレター1回分の宛先別結果を加算する。
func (c *Collector) RecordNewsletterRecipients(delivered, skipped, failed int) {
	c.recipients.WithLabelValues("delivered").Add(float64(delivered))
	c.recipients.WithLabelValues("skipped").Add(float64(skipped))
	c.recipients.WithLabelValues("failed").Add(float64(failed))
}

// RecordPublishLatency はニュースレター配信の所要時間を記録する。
func (c *Collector) RecordPublishLatency(duration time.Duration) {
	c.publishLatency.Observe(duration.Seconds())
}

// SetOutboxPending は未送信メール件数を設定する。
func (c *Collector) SetOutboxPending(count int) {
	c.outboxPending.Set(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSubscription(string)                {}
func (Nop) RecordConfirmation(string)                {}
func (Nop) RecordEmailDelivery(string, string)       {}
func (Nop) RecordNewsletterRecipients(int, int, int) {}
func (Nop) RecordPublishLatency(time.Duration)       {}
func (Nop) SetOutboxPending(int)                     {}
func (Nop) RecordHTTPStatus(int)                     {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware はレスポンスのステータスコードをcollectorに記録するミドルウェアを返す。
func Middleware(collector MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			collector.RecordHTTPStatus(status)
		})
	}
}
