// Package cleanup はAPIキャッシュの自動削除ジョブを提供する。
// 保持期間を超過したnetwork-firstのキャッシュエントリを
// 定期バッチで削除する。プリキャッシュ済みのアセットは対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storygate/internal/repository"
)

// CleanupJob は保持期間を超過したAPIキャッシュの自動削除ジョブ。
// 冪等な削除処理であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	repo      repository.CacheRepository
	logger    *slog.Logger
	apiBase   string
	Retention time.Duration // APIキャッシュの保持期間
}

// NewCleanupJob は新しいCleanupJobを生成する。
// apiBaseはストーリーAPIの基点URL。この接頭辞を持つキャッシュキーだけが
// 削除対象となる。
func NewCleanupJob(repo repository.CacheRepository, logger *slog.Logger, apiBase string, retention time.Duration) *CleanupJob {
	return &CleanupJob{
		repo:      repo,
		logger:    logger,
		apiBase:   apiBase,
		Retention: retention,
	}
}

// Run は現行世代内で保持期間を超過したAPIキャッシュを削除する。
// 現行世代が存在しない場合は何もしない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	current, err := j.repo.CurrentGeneration(ctx)
	if err != nil {
		return fmt.Errorf("現行世代の取得に失敗: %w", err)
	}
	if current == nil {
		j.logger.Debug("現行世代が存在しないためクリーンアップをスキップします")
		return nil
	}

	cutoff := time.Now().Add(-j.Retention)
	deletedCount, err := j.repo.DeleteStaleResponses(ctx, current.Name, j.apiBase, cutoff)
	if err != nil {
		j.logger.Error("APIキャッシュクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("generation", current.Name),
		)
		return fmt.Errorf("APIキャッシュクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("APIキャッシュクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("generation", current.Name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("APIキャッシュクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("APIキャッシュクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
