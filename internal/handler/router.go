package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/newsletter/internal/database"
	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	RateLimiter       *middleware.RateLimiter
	TrustProxyHeaders bool

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// 購読
	SubscriptionService SubscriptionServiceInterface
	ConfirmationService ConfirmationServiceInterface

	// ニュースレター
	NewsletterService NewsletterServiceInterface

	// ヘルスチェック
	DB database.Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	(RealIP) → RequestID → Recovery → SecurityHeaders → Logging → Metrics
//
// レート制限はPOST /subscriptionsにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(log))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(log))

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	r.Use(metrics.Middleware(collector))

	subHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.ConfirmationService)
	newsletterHandler := NewNewsletterHandler(deps.NewsletterService)
	healthHandler := NewHealthHandler(deps.DB)

	// 購読
	r.Route("/subscriptions", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.Middleware()).Post("/", subHandler.Subscribe)
		} else {
			r.Post("/", subHandler.Subscribe)
		}
		r.Get("/confirm", subHandler.Confirm)
	})

	// ニュースレター配信
	r.Post("/newsletters", newsletterHandler.Publish)

	// 運用
	r.Get("/health", healthHandler.Check)
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	return r
}
