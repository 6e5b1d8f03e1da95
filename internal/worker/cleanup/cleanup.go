// Package cleanup はお知らせの自動アーカイブジョブを提供する。
// 掲載期限（expires_at）を過ぎた公開中のお知らせを日次バッチで非公開にする。
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
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ArchiveRecorder は非公開化件数を記録する。
type ArchiveRecorder interface {
	RecordAnnouncementsArchived(count int64)
}

// ArchiveJob は掲載期限切れのお知らせを非公開にするジョブ。
type ArchiveJob struct {
	db       Executor
	logger   *slog.Logger
	recorder ArchiveRecorder
	now      func() time.Time
}

// NewArchiveJob は新しいArchiveJobを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewArchiveJob(db Executor, logger *slog.Logger, recorder ArchiveRecorder) *ArchiveJob {
	return &ArchiveJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は expires_at が現在時刻より前の公開中お知らせを非公開にする。
// 冪等: 対象がない場合でもエラーにならない。
func (j *ArchiveJob) Run(ctx context.Context) error {
	start := time.Now()

	query := `UPDATE announcements SET published = false, updated_at = now()
		WHERE published = true AND expires_at IS NOT NULL AND expires_at < $1`
	result, err := j.db.ExecContext(ctx, query, j.now().UTC())
	if err != nil {
		j.logger.Error("お知らせアーカイブジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("お知らせアーカイブの実行に失敗: %w", err)
	}

	archived, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	if j.recorder != nil && archived > 0 {
		j.recorder.RecordAnnouncementsArchived(archived)
	}

	j.logger.Info("お知らせアーカイブジョブが完了しました",
		slog.Int64("archived_count", archived),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
func (j *ArchiveJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

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
