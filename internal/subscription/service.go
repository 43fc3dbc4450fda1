// Package subscription は購読登録（ダブルオプトインの第一段階）のドメインロジックを提供する。
package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/newsletter/internal/domain"
	"github.com/hitoshi/newsletter/internal/email"
	"github.com/hitoshi/newsletter/internal/logger"
	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/repository"
	"github.com/samber/oops"
)

// directDeliveryGrace は即時送信モードで、ワーカーが確認メールを取得するまでの猶予。
// outboxワーカーのリース期間（outbox.DefaultLease）と同じ長さ。
const directDeliveryGrace = 2 * time.Minute

// Form は購読登録フォームの入力値。
type Form struct {
	Name  string
	Email string
}

// DeliveryMarker は即時送信に成功した送信待ちメールを送信済みにする。
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, id string) error
}

// Service は購読登録のサービス層。
// 購読者・確認トークン・確認メールを同一トランザクションで記録する。
type Service struct {
	repo    repository.SubscriberRepository
	baseURL string
	direct  email.Client
	marker  DeliveryMarker
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	now      func() time.Time
	newID    func() string
	newToken func() (string, error)
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithDirectDelivery はコミット後に確認メールを即時送信する。
// 送信に成功した場合はmarkerで送信待ちメールを送信済みにする。
func WithDirectDelivery(client email.Client, marker DeliveryMarker) Option {
	return func(s *Service) {
		s.direct = client
		s.marker = marker
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService はServiceの新しいインスタンスを生成する。
// baseURLは確認リンクの組み立てに使用する。
func NewService(repo repository.SubscriberRepository, baseURL string, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		baseURL:  baseURL,
		metrics:  metrics.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		newToken: GenerateToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe は入力を検証し、Pending状態の購読者を登録して購読者IDを返す。
// 検証に失敗した場合は何も記録しない。
func (s *Service) Subscribe(ctx context.Context, form Form) (string, error) {
	name, err := domain.ParseDisplayName(form.Name)
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultInvalid)
		return "", model.NewValidationError(err.Error())
	}
	addr, err := domain.ParseEmail(form.Email)
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultInvalid)
		return "", model.NewValidationError(err.Error())
	}

	token, err := s.newToken()
	if err != nil {
		s.metrics.RecordSubscription(metrics.ResultFailure)
		return "", model.NewUnexpectedError(
			oops.In("subscription").Wrapf(err, "generate subscription token"))
	}

	now := s.now().UTC()
	sub := &model.Subscriber{
		ID:           s.newID(),
		Email:        addr.String(),
		Name:         name.String(),
		SubscribedAt: now,
		Status:       model.StatusPending,
	}

	msg := RenderConfirmationEmail(s.baseURL, name, token)
	nextAttempt := now
	if s.direct != nil {
		nextAttempt = now.Add(directDeliveryGrace)
	}
	outboxEmail := &model.OutboxEmail{
		ID:            s.newID(),
		Recipient:     addr.String(),
		Subject:       msg.Subject,
		HTMLBody:      msg.HTML,
		TextBody:      msg.Text,
		Status:        model.OutboxStatusPending,
		NextAttemptAt: nextAttempt,
		CreatedAt:     now,
	}

	if err := s.repo.CreatePending(ctx, sub, token, outboxEmail); err != nil {
		s.metrics.RecordSubscription(metrics.ResultFailure)
		return "", model.NewUnexpectedError(
			oops.In("subscription").With("subscriber_id", sub.ID).Wrapf(err, "store pending subscriber"))
	}

	s.logger.Info("購読者を登録しました",
		slog.String("subscriber_id", sub.ID),
		slog.String("email", logger.MaskEmail(sub.Email)),
	)

	if s.direct != nil {
		if err := s.deliverNow(ctx, addr, outboxEmail); err != nil {
			s.metrics.RecordSubscription(metrics.ResultFailure)
			return "", model.NewUnexpectedError(err)
		}
	}

	s.metrics.RecordSubscription(metrics.ResultSuccess)
	return sub.ID, nil
}

// deliverNow は確認メールを即時送信する。失敗しても送信待ちメールは残り、ワーカーが再送する。
func (s *Service) deliverNow(ctx context.Context, to domain.Email, msg *model.OutboxEmail) error {
	if err := s.direct.Send(ctx, to, msg.Subject, msg.HTMLBody, msg.TextBody); err != nil {
		s.metrics.RecordEmailDelivery(metrics.ChannelDirect, metrics.ResultFailure)
		return oops.In("subscription").With("email_id", msg.ID).Wrapf(err, "send confirmation email")
	}
	s.metrics.RecordEmailDelivery(metrics.ChannelDirect, metrics.ResultSuccess)

	if s.marker == nil {
		return nil
	}
	// 送信済みの記録に失敗してもメール自体は届いているため、エラーにはしない
	if err := s.marker.MarkDelivered(ctx, msg.ID); err != nil {
		s.logger.Warn("確認メールの送信済み記録に失敗しました",
			slog.String("email_id", msg.ID),
			logger.ErrorAttr(err),
		)
	}
	return nil
}
