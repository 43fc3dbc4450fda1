// Package cleanup は送信済みメールの自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過したdeliveredの送信待ちメールを
// 日次バッチで削除する。pendingとfailedの行は削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsletter/internal/logger"
)

// DefaultRetentionDays は送信済みメールの保持日数のデフォルト値。
const DefaultRetentionDays = 14

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過した送信済みメールの削除ジョブ。
// 削除対象がなくてもエラーにならず、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 送信済みメールの保持日数
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(db Executor, l *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		db:            db,
		logger:        l,
		RetentionDays: retentionDays,
	}
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if ctx.Err() != nil {
		return
	}
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}

// Run はdelivered_atがRetentionDays日より前の送信済みメールを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM email_outbox
		WHERE status = 'delivered' AND delivered_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("送信済みメールのクリーンアップに失敗しました",
			logger.ErrorAttr(err),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("送信済みメールのクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました", logger.ErrorAttr(err))
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("送信済みメールのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}
