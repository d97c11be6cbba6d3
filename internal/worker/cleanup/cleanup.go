// Package cleanup は使われなくなったOAuthアプリ登録の自動削除ジョブを提供する。
// ログインが完了しなかったサーバーの登録は、保持期間（デフォルト30日）を
// 過ぎると日次バッチで削除する。ログイン済みアカウントのあるサーバーの登録は残す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppCleanupJob は保持期間を超過した未使用のOAuthアプリ登録を削除するジョブ。
// 削除対象が無くてもエラーにならない。
type AppCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 未使用の登録を保持する日数（デフォルト: 30）
}

// NewAppCleanupJob は新しいAppCleanupJobを生成する。
func NewAppCleanupJob(db Executor, logger *slog.Logger) *AppCleanupJob {
	return &AppCleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run はアカウントが1件も無く、created_atがRetentionDays日前より古い登録を削除する。
func (j *AppCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM instance_apps ia
		WHERE ia.created_at < now() - $1::interval
		  AND NOT EXISTS (SELECT 1 FROM accounts a WHERE a.domain = ia.domain)`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("アプリ登録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("アプリ登録クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("アプリ登録クリーンアップの削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("アプリ登録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はコンテキストがキャンセルされるまでintervalごとにRunを実行する。
// 起動直後に1回実行する。
func (j *AppCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
