// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsletter/internal/model"
)

// SubscriberRepository は購読者と確認トークンの永続化インターフェース。
type SubscriberRepository interface {
	// CreatePending は購読者（Pending）、確認トークン、送信待ちメールを
	// 同一トランザクションで作成する。いずれかが失敗した場合は何も残らない。
	CreatePending(ctx context.Context, sub *model.Subscriber, token string, email *model.OutboxEmail) error

	// FindSubscriberIDByToken はトークンに紐付く購読者IDを返す。
	// 見つからない場合は空文字列を返す。
	FindSubscriberIDByToken(ctx context.Context, token string) (string, error)

	// Confirm は購読者の状態をConfirmedにする。既にConfirmedの場合も成功する。
	Confirm(ctx context.Context, subscriberID string) error

	// ListConfirmedEmails はConfirmed状態の購読者のメールアドレスを返す。
	// 値は保存時のまま返し、再検証は呼び出し側で行う。
	ListConfirmedEmails(ctx context.Context) ([]string, error)
}

// CredentialRepository は配信者認証情報の読み取りインターフェース。
type CredentialRepository interface {
	// FindByUsername はユーザー名で認証情報を取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Credential, error)
}

// OutboxRepository は送信待ちメールの永続化インターフェース。
type OutboxRepository interface {
	// ClaimDue は送信期限を迎えたpendingのメールを最大limit件取得する。
	// 取得した行はleaseの間、他のワーカーから取得されない。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEmail, error)

	// MarkDelivered は送信済みとして記録する。
	MarkDelivered(ctx context.Context, id string) error

	// MarkRetry は送信失敗を記録し、次回送信時刻を設定する。
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkFailed は再試行上限に達したメールを失敗として記録する。
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error

	// CountPending は未送信のメール件数を返す。
	CountPending(ctx context.Context) (int, error)
}
