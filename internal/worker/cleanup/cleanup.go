// Package cleanup は期限切れルームセッションの定期削除ジョブを提供する。
// セッションの有効期限はアクセストークンのTTLと一致するため、
// 期限切れのスナップショットを保持し続ける必要はない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionSweeper は期限切れセッションの削除に必要なインターフェース。
// repository.RoomSessionRepositoryの部分集合として定義する。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepRecorder は削除件数の記録に必要なインターフェース。
type SweepRecorder interface {
	RecordRoomSessionsSwept(count int64)
}

// DefaultInterval は削除ジョブの既定の実行間隔。
const DefaultInterval = 5 * time.Minute

// CleanupJob は期限切れルームセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionSweeper
	metrics  SweepRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。metricsはnilでもよい。
func NewCleanupJob(sessions SessionSweeper, metrics SweepRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は現在時刻で期限切れのルームセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("ルームセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ルームセッションの削除に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordRoomSessionsSwept(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("ルームセッションのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はctxがキャンセルされるまでintervalごとにRunを実行する。
// 起動直後に1回実行する。個々の実行の失敗ではループを止めない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return nil
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
