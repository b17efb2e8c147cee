// Package pin はストーリーのオフライン保存（ピン留め）機能を提供する。
package pin

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/repository"
)

// StoryFetcher はピン留め対象のストーリーを取得するインターフェース。
// story.Clientが実装する。
type StoryFetcher interface {
	GetStoryByID(ctx context.Context, id string) (*model.Story, error)
}

// Service はピン留めストーリーのサービス。
// ピン留めはIDで冪等であり、同一IDの再保存は上書きとなる。
// ストアはネットワークキャッシュと独立しており、世代の入れ替えの
// 影響を受けない。
type Service struct {
	repo    repository.PinRepository
	stories StoryFetcher
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PinRepository, stories StoryFetcher, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		stories: stories,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Pin はストーリーをAPIから取得してオフライン保存する。
// ストーリーが存在しない場合はSTORY_NOT_FOUNDエラーを返す。
func (s *Service) Pin(ctx context.Context, id string) (*model.PinnedStory, error) {
	story, err := s.stories.GetStoryByID(ctx, id)
	if err != nil {
		return nil, err
	}

	pinned := story.Pin(s.now())
	if err := s.repo.Save(ctx, pinned); err != nil {
		return nil, model.NewStorageFailedError(err.Error())
	}

	s.updatePinnedCount(ctx)
	s.logger.Info("ストーリーをピン留めしました", slog.String("story_id", id))
	return pinned, nil
}

// Save は取得済みのストーリーをそのままオフライン保存する。
func (s *Service) Save(ctx context.Context, story *model.Story) (*model.PinnedStory, error) {
	pinned := story.Pin(s.now())
	if err := s.repo.Save(ctx, pinned); err != nil {
		return nil, model.NewStorageFailedError(err.Error())
	}

	s.updatePinnedCount(ctx)
	s.logger.Info("ストーリーをピン留めしました", slog.String("story_id", story.ID))
	return pinned, nil
}

// Unpin はピン留めを解除する。未保存のIDでも成功する。
func (s *Service) Unpin(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return model.NewStorageFailedError(err.Error())
	}

	s.updatePinnedCount(ctx)
	s.logger.Info("ピン留めを解除しました", slog.String("story_id", id))
	return nil
}

// List は全ピン留めストーリーを返す。
func (s *Service) List(ctx context.Context) ([]model.PinnedStory, error) {
	pins, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, model.NewStorageFailedError(err.Error())
	}
	return pins, nil
}

// IsSaved は指定IDがピン留め済みかを返す。
func (s *Service) IsSaved(ctx context.Context, id string) (bool, error) {
	saved, err := s.repo.Exists(ctx, id)
	if err != nil {
		return false, model.NewStorageFailedError(err.Error())
	}
	return saved, nil
}

func (s *Service) updatePinnedCount(ctx context.Context) {
	pins, err := s.repo.FindAll(ctx)
	if err != nil {
		s.logger.Warn("ピン留め件数の取得に失敗しました", slog.String("error", err.Error()))
		return
	}
	s.metrics.SetPinnedStories(len(pins))
}
