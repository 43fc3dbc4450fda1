package email

import (
	"context"
	"fmt"

	"github.com/hitoshi/newsletter/internal/config"
	"github.com/hitoshi/newsletter/internal/domain"
)

// NewClient は設定のProviderに応じたClientを生成する。
// amqpの場合は*QueueClientを返すため、呼び出し側はio.Closerとして閉じること。
func NewClient(ctx context.Context, cfg config.EmailConfig) (Client, error) {
	sender, err := domain.ParseEmail(cfg.Sender)
	if err != nil {
		return nil, fmt.Errorf("invalid EMAIL_SENDER: %w", err)
	}

	switch cfg.Provider {
	case config.ProviderPostmark:
		return NewPostmarkClient(cfg.PostmarkBaseURL, sender, cfg.PostmarkToken, cfg.Timeout), nil
	case config.ProviderMailgun:
		return NewMailgunClient(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase, sender), nil
	case config.ProviderSES:
		return NewSESClient(ctx, SESConfig{
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKeyID,
			SecretKey: cfg.AWSSecretAccessKey,
		}, sender)
	case config.ProviderAMQP:
		return DialQueue(cfg.AMQPURL, cfg.AMQPQueue)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// NewRelayClient はキューから取り出したジョブを実際に送信するClientを生成する。
func NewRelayClient(ctx context.Context, cfg config.EmailConfig) (Client, error) {
	if cfg.RelayProvider == config.ProviderAMQP {
		return nil, fmt.Errorf("relay provider must not be %q", config.ProviderAMQP)
	}
	return NewClient(ctx, cfg.ForProvider(cfg.RelayProvider))
}
