// Package email はメール送信クライアントを提供する。
// 送信先プロバイダーごとに実装があり、いずれもClientインターフェースを満たす。
package email

import (
	"context"

	"github.com/hitoshi/newsletter/internal/domain"
)

// Client はメール1通を送信するインターフェース。
// 実装はリトライを行わない。再送は呼び出し側の責務とする。
type Client interface {
	Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error
}

// ClientFunc は関数をClientとして扱うためのアダプタ。
type ClientFunc func(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error

// Send はf自身を呼び出す。
func (f ClientFunc) Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error {
	return f(ctx, to, subject, htmlBody, textBody)
}
