package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/model"
)

// Coordinator はプッシュ購読のライフサイクルを調整する。
// 購読は常に高々1件。登録はサーバー側の成功を待ってから確定し、
// 解除はサーバー側を先に行う（remote-first）。
type Coordinator struct {
	platform Platform
	server   ServerAPI
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	mu     sync.Mutex
	denied bool // 拒否は終端。以後の購読要求は即座に失敗する
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
func NewCoordinator(platform Platform, server ServerAPI, collector metrics.MetricsCollector, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		platform: platform,
		server:   server,
		metrics:  collector,
		logger:   logger,
	}
}

// Subscribe は購読を作成してサーバーに登録する。
// 既存の購読がある場合は再利用してサーバーへ再送する（冪等）。
// 通知許可の拒否は終端エラーとなり、リトライされない。
// サーバー登録に失敗した場合、ローカルの購読は次回の再試行のために
// 保持されたままエラーを返す。
func (c *Coordinator) Subscribe(ctx context.Context) (*model.PushSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.denied {
		return nil, model.NewPermissionDeniedError()
	}

	perm, err := c.platform.Permission(ctx)
	if err != nil {
		return nil, model.NewSubscriptionSyncError(err.Error())
	}
	if perm == PermissionDenied {
		c.denied = true
		c.metrics.RecordPushEvent("permission_denied")
		c.logger.Warn("通知許可が拒否されました")
		return nil, model.NewPermissionDeniedError()
	}

	sub, err := c.platform.Existing(ctx)
	if err != nil {
		return nil, model.NewSubscriptionSyncError(err.Error())
	}
	if sub == nil {
		sub, err = c.platform.CreateSubscription(ctx)
		if err != nil {
			return nil, model.NewSubscriptionSyncError(err.Error())
		}
		c.logger.Info("新しい購読を作成しました", slog.String("subscription_id", sub.ID))
	} else {
		c.logger.Info("既存の購読を再利用します", slog.String("subscription_id", sub.ID))
	}

	if err := c.server.Subscribe(ctx, sub); err != nil {
		// ローカルの購読は保持し、次回のSubscribeで再送できるようにする
		c.metrics.RecordPushEvent("subscribe_failed")
		c.logger.Error("サーバーへの購読登録に失敗しました",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSubscriptionSyncError(err.Error())
	}

	c.metrics.RecordPushEvent("subscribed")
	c.logger.Info("購読をサーバーに登録しました", slog.String("subscription_id", sub.ID))
	return sub, nil
}

// Unsubscribe は購読をサーバーから解除し、その後にローカルの購読を破棄する。
// 購読が存在しない場合は成功として扱う。サーバー側の解除に失敗した場合、
// ローカルの購読は破棄されずエラーを返す。
func (c *Coordinator) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.platform.Existing(ctx)
	if err != nil {
		return model.NewSubscriptionSyncError(err.Error())
	}
	if sub == nil {
		c.logger.Info("購読が存在しないため解除をスキップします")
		return nil
	}

	if err := c.server.Unsubscribe(ctx, sub.Endpoint); err != nil {
		c.metrics.RecordPushEvent("unsubscribe_failed")
		c.logger.Error("サーバーからの購読解除に失敗しました",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return model.NewSubscriptionSyncError(err.Error())
	}

	if err := c.platform.RemoveSubscription(ctx); err != nil {
		return model.NewStorageFailedError(err.Error())
	}

	c.metrics.RecordPushEvent("unsubscribed")
	c.logger.Info("購読を解除しました", slog.String("subscription_id", sub.ID))
	return nil
}

// Status は購読状態を返す。フラグではなく保持中の購読の有無を
// 毎回確認するため、外部要因で購読が消えた場合も正しく反映される。
func (c *Coordinator) Status(ctx context.Context) (bool, *model.PushSubscription, error) {
	sub, err := c.platform.Existing(ctx)
	if err != nil {
		return false, nil, model.NewStorageFailedError(err.Error())
	}
	return sub != nil, sub, nil
}
