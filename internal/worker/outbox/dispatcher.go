// Package outbox は送信待ちメールを非同期に配信するワーカーを提供する。
// ティッカーで期限を迎えた行を取得し、semaphoreで並列数を制御しながら送信する。
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsletter/internal/domain"
	"github.com/hitoshi/newsletter/internal/email"
	"github.com/hitoshi/newsletter/internal/logger"
	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/repository"
)

// デフォルト設定
const (
	DefaultBatchSize      = 50
	DefaultMaxConcurrency = 5
	DefaultMaxAttempts    = 8
	DefaultLease          = 2 * time.Minute
)

// Config はDispatcherの設定。ゼロ値の項目はデフォルト値で補う。
type Config struct {
	BatchSize      int
	MaxConcurrency int
	MaxAttempts    int
	Lease          time.Duration
}

// Stats は1サイクル分の処理結果。
type Stats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetried
	outcomeFailed
)

// Dispatcher は送信待ちメールを取得して送信し、結果に応じて状態を更新する。
type Dispatcher struct {
	repo    repository.OutboxRepository
	client  email.Client
	cfg     Config
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	repo repository.OutboxRepository,
	client email.Client,
	cfg Config,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Dispatcher{
		repo:    repo,
		client:  client,
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Start はintervalごとにRunOnceを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("送信待ちメールの配信ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", d.cfg.BatchSize),
		slog.Int("max_concurrency", d.cfg.MaxConcurrency),
	)

	d.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("送信待ちメールの配信ワーカーを停止しました")
			return
		case <-ticker.C:
			d.runLogged(ctx)
		}
	}
}

func (d *Dispatcher) runLogged(ctx context.Context) {
	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Error("配信サイクルの実行に失敗しました", logger.ErrorAttr(err))
	}
}

// RunOnce は期限を迎えた送信待ちメールを最大BatchSize件取得し、並列で送信する。
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	start := time.Now()

	emails, err := d.repo.ClaimDue(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return Stats{}, fmt.Errorf("送信待ちメールの取得に失敗: %w", err)
	}

	stats := Stats{Claimed: len(emails)}
	if len(emails) > 0 {
		d.dispatch(ctx, emails, &stats)

		d.logger.Info("配信サイクルが完了しました",
			slog.Int("claimed", stats.Claimed),
			slog.Int("delivered", stats.Delivered),
			slog.Int("retried", stats.Retried),
			slog.Int("failed", stats.Failed),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}

	if pending, err := d.repo.CountPending(ctx); err != nil {
		d.logger.Warn("未送信件数の取得に失敗しました", logger.ErrorAttr(err))
	} else {
		d.metrics.SetOutboxPending(pending)
	}

	return stats, nil
}

// dispatch はsemaphoreで並列数を制御しながら各メールを送信する。
func (d *Dispatcher) dispatch(ctx context.Context, emails []*model.OutboxEmail, stats *Stats) {
	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, e := range emails {
		wg.Add(1)
		sem <- struct{}{}

		go func(e *model.OutboxEmail) {
			defer wg.Done()
			defer func() { <-sem }()

			result := d.deliver(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case outcomeDelivered:
				stats.Delivered++
			case outcomeRetried:
				stats.Retried++
			case outcomeFailed:
				stats.Failed++
			}
		}(e)
	}

	wg.Wait()
}

// deliver は1件を送信し、成功なら送信済み、失敗なら再送予約または失敗として記録する。
func (d *Dispatcher) deliver(ctx context.Context, e *model.OutboxEmail) outcome {
	to, err := domain.ParseEmail(e.Recipient)
	if err != nil {
		return d.fail(ctx, e, e.Attempts+1, err)
	}

	if err := d.client.Send(ctx, to, e.Subject, e.HTMLBody, e.TextBody); err != nil {
		attempts := e.Attempts + 1
		if email.IsPermanent(err) || attempts >= d.cfg.MaxAttempts {
			return d.fail(ctx, e, attempts, err)
		}
		return d.retry(ctx, e, attempts, err)
	}

	if err := d.repo.MarkDelivered(ctx, e.ID); err != nil {
		d.logger.Error("送信済み状態の記録に失敗しました",
			slog.String("email_id", e.ID),
			logger.ErrorAttr(err),
		)
	}
	d.metrics.RecordEmailDelivery(metrics.ChannelOutbox, metrics.ResultSuccess)
	return outcomeDelivered
}

func (d *Dispatcher) retry(ctx context.Context, e *model.OutboxEmail, attempts int, cause error) outcome {
	next := d.now().Add(CalculateBackoff(attempts - 1))

	d.logger.Warn("メール送信に失敗したため再送を予約しました",
		slog.String("email_id", e.ID),
		slog.String("recipient", logger.MaskEmail(e.Recipient)),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", next),
		slog.String("error", cause.Error()),
	)

	if err := d.repo.MarkRetry(ctx, e.ID, attempts, next, cause.Error()); err != nil {
		d.logger.Error("再送予約の記録に失敗しました",
			slog.String("email_id", e.ID),
			logger.ErrorAttr(err),
		)
	}
	d.metrics.RecordEmailDelivery(metrics.ChannelOutbox, metrics.ResultFailure)
	return outcomeRetried
}

func (d *Dispatcher) fail(ctx context.Context, e *model.OutboxEmail, attempts int, cause error) outcome {
	d.logger.Error("メール送信を断念しました",
		slog.String("email_id", e.ID),
		slog.String("recipient", logger.MaskEmail(e.Recipient)),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)

	if err := d.repo.MarkFailed(ctx, e.ID, attempts, cause.Error()); err != nil {
		d.logger.Error("送信失敗状態の記録に失敗しました",
			slog.String("email_id", e.ID),
			logger.ErrorAttr(err),
		)
	}
	d.metrics.RecordEmailDelivery(metrics.ChannelOutbox, metrics.ResultGaveUp)
	return outcomeFailed
}
