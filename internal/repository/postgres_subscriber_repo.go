package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newsletter/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db *sql.DB
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

// CreatePending は購読者、確認トークン、送信待ちメールを同一トランザクションで作成する。
func (r *PostgresSubscriberRepo) CreatePending(ctx context.Context, sub *model.Subscriber, token string, email *model.OutboxEmail) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.Email, sub.Name, sub.SubscribedAt, string(sub.Status),
	)
	if err != nil {
		return fmt.Errorf("購読者の登録に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		 VALUES ($1, $2)`,
		token, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("確認トークンの登録に失敗しました: %w", err)
	}

	if email != nil {
		if err := insertOutboxEmail(ctx, tx, email); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// FindSubscriberIDByToken はトークンに紐付く購読者IDを返す。見つからない場合は空文字列を返す。
func (r *PostgresSubscriberRepo) FindSubscriberIDByToken(ctx context.Context, token string) (string, error) {
	var subscriberID string
	err := r.db.QueryRowContext(ctx,
		`SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`,
		token,
	).Scan(&subscriberID)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("確認トークンの検索に失敗しました: %w", err)
	}

	return subscriberID, nil
}

// Confirm は購読者の状態をconfirmedに更新する。
// 既にconfirmedの行に適用しても状態は変わらないため冪等。
func (r *PostgresSubscriberRepo) Confirm(ctx context.Context, subscriberID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $1 WHERE id = $2`,
		string(model.StatusConfirmed), subscriberID,
	)
	if err != nil {
		return fmt.Errorf("購読者の確認状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListConfirmedEmails はconfirmed状態の購読者のメールアドレスを登録順に返す。
func (r *PostgresSubscriberRepo) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM subscriptions WHERE status = $1 ORDER BY subscribed_at ASC`,
		string(model.StatusConfirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("確認済み購読者の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("確認済み購読者の読み取りに失敗しました: %w", err)
		}
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("確認済み購読者の走査に失敗しました: %w", err)
	}

	return emails, nil
}

// compile-time interface check
var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
