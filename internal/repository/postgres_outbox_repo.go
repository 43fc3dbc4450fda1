package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/newsletter/internal/model"
)

// PostgresOutboxRepo はPostgreSQLを使用した送信待ちメールリポジトリ。
type PostgresOutboxRepo struct {
	db *sql.DB
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertOutboxEmail は送信待ちメールを1件登録する。
// 購読者登録のトランザクション内から呼び出される。
func insertOutboxEmail(ctx context.Context, ex execer, email *model.OutboxEmail) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO email_outbox (id, recipient, subject, html_body, text_body, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		email.ID, email.Recipient, email.Subject, email.HTMLBody, email.TextBody,
		string(model.OutboxStatusPending), email.NextAttemptAt, email.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("送信待ちメールの登録に失敗しました: %w", err)
	}
	return nil
}

// ClaimDue は送信期限を迎えたpendingのメールを取得する。
// FOR UPDATE SKIP LOCKEDで他のワーカーと競合せずに行を選び、
// next_attempt_atをlease分だけ先送りすることで送信中の二重取得を防ぐ。
func (r *PostgresOutboxRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEmail, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE email_outbox
		 SET next_attempt_at = now() + $2 * interval '1 second'
		 WHERE id IN (
		     SELECT id FROM email_outbox
		     WHERE status = 'pending' AND next_attempt_at <= now()
		     ORDER BY next_attempt_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, recipient, subject, html_body, text_body, status, attempts,
		           last_error, next_attempt_at, created_at`,
		limit, int(lease.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("送信待ちメールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var emails []*model.OutboxEmail
	for rows.Next() {
		email := &model.OutboxEmail{}
		var status string
		var lastError sql.NullString

		if err := rows.Scan(
			&email.ID, &email.Recipient, &email.Subject, &email.HTMLBody, &email.TextBody,
			&status, &email.Attempts, &lastError, &email.NextAttemptAt, &email.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("送信待ちメールの読み取りに失敗しました: %w", err)
		}

		email.Status = model.OutboxStatus(status)
		email.LastError = nullStringValue(lastError)
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("送信待ちメールの走査に失敗しました: %w", err)
	}

	return emails, nil
}

// MarkDelivered は送信済みとして記録する。
func (r *PostgresOutboxRepo) MarkDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox
		 SET status = 'delivered', delivered_at = now(), last_error = NULL
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("送信済み状態の更新に失敗しました: %w", err)
	}
	return nil
}

// MarkRetry は送信失敗を記録し、次回送信時刻を設定する。
func (r *PostgresOutboxRepo) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox
		 SET attempts = $2, next_attempt_at = $3, last_error = $4
		 WHERE id = $1`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("再送信予定の更新に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は再試行上限に達したメールを失敗として記録する。
func (r *PostgresOutboxRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox
		 SET status = 'failed', attempts = $2, last_error = $3
		 WHERE id = $1`,
		id, attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("送信失敗状態の更新に失敗しました: %w", err)
	}
	return nil
}

// CountPending は未送信のメール件数を返す。
func (r *PostgresOutboxRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_outbox WHERE status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("送信待ちメール件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
