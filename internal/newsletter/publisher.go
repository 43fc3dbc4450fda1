// Package newsletter は確認済み購読者へのニュースレター配信を提供する。
package newsletter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsletter/internal/auth"
	"github.com/hitoshi/newsletter/internal/domain"
	"github.com/hitoshi/newsletter/internal/email"
	"github.com/hitoshi/newsletter/internal/logger"
	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/security"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// デフォルト設定
const (
	DefaultConcurrency = 4
	DefaultMaxRetries  = 2
	DefaultRetryBase   = 200 * time.Millisecond
)

// Issue は配信するニュースレター1号分の内容。
type Issue struct {
	Title string
	HTML  string
	Text  string
}

// 送信失敗の分類。メールAPIの応答本文などの詳細はログにのみ出力する。
const (
	ReasonPermanent = "permanent"
	ReasonTransient = "transient"
)

// Failure は送信に失敗した宛先と失敗の分類。宛先はマスク済み。
type Failure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// Report は配信結果の集計。
type Report struct {
	Recipients int       `json:"recipients"`
	Delivered  int       `json:"delivered"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Verifier は配信者の認証情報を検証する。
type Verifier interface {
	Verify(ctx context.Context, username, password string) (string, error)
}

// RecipientLister は確認済み購読者のメールアドレスを返す。
type RecipientLister interface {
	ListConfirmedEmails(ctx context.Context) ([]string, error)
}

// Config は配信の並列度と再試行の設定。
type Config struct {
	Concurrency int
	MaxRetries  uint64
	RetryBase   time.Duration
}

// Publisher はニュースレターを確認済み購読者へ並列に配信する。
type Publisher struct {
	verifier  Verifier
	lister    RecipientLister
	client    email.Client
	sanitizer security.ContentSanitizer
	cfg       Config
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewPublisher はPublisherを生成する。cfgのゼロ値の項目はデフォルト値で補う。
func NewPublisher(
	verifier Verifier,
	lister RecipientLister,
	client email.Client,
	sanitizer security.ContentSanitizer,
	cfg Config,
	collector metrics.MetricsCollector,
	l *slog.Logger,
) *Publisher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &Publisher{
		verifier:  verifier,
		lister:    lister,
		client:    client,
		sanitizer: sanitizer,
		cfg:       cfg,
		metrics:   collector,
		logger:    l,
	}
}

// Publish は認証後、確認済みの全購読者にニュースレターを送信する。
// 一部の宛先の失敗は他の宛先への配信を止めず、Reportに記録される。
// 試行した宛先が全て失敗した場合は内部エラーを返す。
func (p *Publisher) Publish(ctx context.Context, issue Issue, creds auth.Credentials) (*Report, error) {
	userID, err := p.verifier.Verify(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	stored, err := p.lister.ListConfirmedEmails(ctx)
	if err != nil {
		return nil, model.NewUnexpectedError(
			oops.In("newsletter").Wrapf(err, "list confirmed subscribers"))
	}

	report := &Report{Recipients: len(stored)}
	recipients := make([]domain.Email, 0, len(stored))
	for _, raw := range stored {
		addr, err := domain.ParseEmail(raw)
		if err != nil {
			p.logger.Warn("保存済みの連絡先が不正なため確認済み購読者をスキップしました",
				slog.String("email", logger.MaskEmail(raw)),
				slog.String("error", err.Error()),
			)
			report.Skipped++
			continue
		}
		recipients = append(recipients, addr)
	}

	html := p.sanitizer.Sanitize(issue.HTML)
	p.fanOut(ctx, recipients, issue.Title, html, issue.Text, report)

	p.metrics.RecordNewsletterRecipients(report.Delivered, report.Skipped, report.Failed)
	p.metrics.RecordPublishLatency(time.Since(start))

	attrs := []any{
		slog.String("user_id", userID),
		slog.String("title", issue.Title),
		slog.Int("recipients", report.Recipients),
		slog.Int("delivered", report.Delivered),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	}

	switch {
	case len(recipients) > 0 && report.Delivered == 0:
		p.logger.Error("すべての宛先へのニュースレター配信に失敗しました", attrs...)
		return report, model.NewUnexpectedError(
			oops.In("newsletter").With("failed", report.Failed).Errorf("all %d recipients failed", report.Failed))
	case report.Failed > 0:
		p.logger.Warn("ニュースレターを一部の宛先に配信できませんでした", attrs...)
	default:
		p.logger.Info("ニュースレターを配信しました", attrs...)
	}

	return report, nil
}

// fanOut は宛先を最大Concurrency個のゴルーチンで送信し、結果をreportに集計する。
func (p *Publisher) fanOut(ctx context.Context, recipients []domain.Email, subject, html, text string, report *Report) {
	if len(recipients) == 0 {
		return
	}

	jobs := make(chan domain.Email)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	workers := min(p.cfg.Concurrency, len(recipients))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for to := range jobs {
				err := p.sendWithRetry(ctx, to, subject, html, text)

				mu.Lock()
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, Failure{
						Recipient: logger.MaskEmail(to.String()),
						Reason:    failureReason(err),
					})
				} else {
					report.Delivered++
				}
				mu.Unlock()
			}
		}()
	}

	for _, to := range recipients {
		jobs <- to
	}
	close(jobs)
	wg.Wait()
}

func failureReason(err error) string {
	if email.IsPermanent(err) {
		return ReasonPermanent
	}
	return ReasonTransient
}

// sendWithRetry は指数バックオフで最大MaxRetries回まで再送する。
// メールAPIが恒久的な失敗を返した場合は再送しない。
func (p *Publisher) sendWithRetry(ctx context.Context, to domain.Email, subject, html, text string) error {
	b := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewExponential(p.cfg.RetryBase))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := p.client.Send(ctx, to, subject, html, text)
		if err == nil || email.IsPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		p.metrics.RecordEmailDelivery(metrics.ChannelNewsletter, metrics.ResultFailure)
		p.logger.Warn("ニュースレターの送信に失敗しました",
			slog.String("email", logger.MaskEmail(to.String())),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.metrics.RecordEmailDelivery(metrics.ChannelNewsletter, metrics.ResultSuccess)
	return nil
}
