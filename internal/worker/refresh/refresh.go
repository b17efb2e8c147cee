// Package refresh はプリキャッシュ世代の自動更新ジョブを提供する。
// アプリのルートドキュメントを定期的に再走査し、マニフェストが
// 変化した場合だけ新しい世代をインストールしてアクティベーションする。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/storygate/internal/cache"
)

// Installer は世代のインストールとアクティベーションのインターフェース。
// cache.Managerが実装する。
type Installer interface {
	InstallAndActivate(ctx context.Context, manifest []string) (string, error)
	CurrentGeneration() string
}

// ManifestSource はプリキャッシュ対象一覧の構築インターフェース。
// cache.ManifestBuilderが実装する。
type ManifestSource interface {
	Build(ctx context.Context, extra []string) ([]string, error)
}

// Scheduler はマニフェストの変化を監視して世代を更新する。
type Scheduler struct {
	builder   ManifestSource
	installer Installer
	logger    *slog.Logger
	extra     []string

	lastHash string
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// extraは設定由来の固定プリキャッシュエントリ。
func NewScheduler(builder ManifestSource, installer Installer, logger *slog.Logger, extra []string) *Scheduler {
	return &Scheduler{
		builder:   builder,
		installer: installer,
		logger:    logger,
		extra:     extra,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("世代更新スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("世代更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("世代更新スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("世代更新サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はマニフェストを再構築し、内容が前回と異なる場合、
// または現行世代が存在しない場合に新しい世代をインストールする。
// インストール失敗時は現行世代がそのまま使われ続ける。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	manifest, err := s.builder.Build(ctx, s.extra)
	if err != nil {
		return err
	}

	hash := cache.Hash(manifest)
	if hash == s.lastHash && s.installer.CurrentGeneration() != "" {
		s.logger.Debug("マニフェストに変化がないため更新をスキップします")
		return nil
	}

	generation, err := s.installer.InstallAndActivate(ctx, manifest)
	if err != nil {
		return err
	}
	s.lastHash = hash

	s.logger.Info("新しい世代をインストールしました",
		slog.String("generation", generation),
		slog.Int("entries", len(manifest)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
