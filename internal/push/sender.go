package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hitoshi/storygate/internal/model"
)

// Sender はWeb Pushプロトコルで通知を送信する。
// テスト通知でローカルの購読エンドポイントへの送達経路を検証するために使う。
type Sender struct {
	logger          *slog.Logger
	subscriber      string
	vapidPublicKey  string
	vapidPrivateKey string
}

// NewSender はSenderの新しいインスタンスを生成する。
// subscriberはVAPIDのsubクレームに使う連絡先（メールアドレス）。
func NewSender(logger *slog.Logger, subscriber, vapidPublicKey, vapidPrivateKey string) *Sender {
	return &Sender{
		logger:          logger,
		subscriber:      subscriber,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// Send は通知ペイロードを暗号化して購読エンドポイントへ送信する。
func (s *Sender) Send(ctx context.Context, sub *model.PushSubscription, payload *model.NotificationPayload) error {
	if s.vapidPrivateKey == "" {
		return model.NewCapabilityUnavailableError("vapid")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードの生成に失敗しました: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.vapidPublicKey,
		VAPIDPrivateKey: s.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		s.logger.Error("プッシュ通知の送信に失敗しました",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("プッシュ通知の送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("プッシュエンドポイントがステータス %d を返しました", resp.StatusCode)
	}

	s.logger.Info("プッシュ通知を送信しました", slog.String("subscription_id", sub.ID))
	return nil
}
