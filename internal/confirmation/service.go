// Package confirmation は購読確認（ダブルオプトインの第二段階）を提供する。
package confirmation

import (
	"context"

	"github.com/hitoshi/newsletter/internal/metrics"
	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/repository"
	"github.com/samber/oops"
)

// Service はトークンに紐付く購読者をConfirmedにする。
type Service struct {
	repo    repository.SubscriberRepository
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorがnilの場合は記録しない。
func NewService(repo repository.SubscriberRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{repo: repo, metrics: collector}
}

// Confirm はトークンを検証して購読を確認済みにする。
// 既に確認済みの購読者に対しても成功する。
func (s *Service) Confirm(ctx context.Context, token string) error {
	if token == "" {
		s.metrics.RecordConfirmation(metrics.ResultInvalid)
		return model.NewValidationError("subscription_token is required")
	}

	subscriberID, err := s.repo.FindSubscriberIDByToken(ctx, token)
	if err != nil {
		s.metrics.RecordConfirmation(metrics.ResultFailure)
		return model.NewUnexpectedError(
			oops.In("confirmation").Wrapf(err, "find subscriber by token"))
	}
	if subscriberID == "" {
		s.metrics.RecordConfirmation(metrics.ResultUnknown)
		return model.NewAuthError("unknown subscription token")
	}

	if err := s.repo.Confirm(ctx, subscriberID); err != nil {
		s.metrics.RecordConfirmation(metrics.ResultFailure)
		return model.NewUnexpectedError(
			oops.In("confirmation").With("subscriber_id", subscriberID).Wrapf(err, "confirm subscriber"))
	}

	s.metrics.RecordConfirmation(metrics.ResultSuccess)
	return nil
}
