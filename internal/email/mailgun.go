package email

import (
	"context"
	"fmt"

	"github.com/hitoshi/newsletter/internal/domain"
	"github.com/mailgun/mailgun-go/v4"
)

// mailgunAPI は*mailgun.MailgunImplのうち送信に必要な部分。
type mailgunAPI interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

// MailgunClient はMailgun APIでメールを送信する。
type MailgunClient struct {
	mg     mailgunAPI
	sender domain.Email
}

// NewMailgunClient はMailgunClientを生成する。
// apiBaseが空でなければ送信先APIのベースURLを差し替える（EUリージョン等）。
func NewMailgunClient(mailDomain, apiKey, apiBase string, sender domain.Email) *MailgunClient {
	mg := mailgun.NewMailgun(mailDomain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	return &MailgunClient{mg: mg, sender: sender}
}

// Send はHTML本文とテキスト本文を持つメッセージを送信する。
func (c *MailgunClient) Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error {
	msg := c.mg.NewMessage(c.sender.String(), subject, textBody, to.String())
	if htmlBody != "" {
		msg.SetHtml(htmlBody)
	}

	if _, _, err := c.mg.Send(ctx, msg); err != nil {
		if code := mailgun.GetStatusFromErr(err); code > 0 {
			return fmt.Errorf("mailgun send failed: %w", &StatusError{StatusCode: code, Body: err.Error()})
		}
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	return nil
}

var _ Client = (*MailgunClient)(nil)
