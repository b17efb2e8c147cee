// Package push はプッシュ購読のライフサイクル管理と
// Web Push暗号化メッセージの送受信を提供する。
package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/repository"
)

// Permission は通知許可の状態。
type Permission string

const (
	// PermissionGranted は通知が許可されている状態。
	PermissionGranted Permission = "granted"
	// PermissionDenied は通知が拒否されている状態。拒否は終端であり
	// 同一セッション内で再試行されない。
	PermissionDenied Permission = "denied"
)

// Platform はプッシュ購読を生成・保持する実行環境の抽象。
// ローカル実装は鍵ペアを自前で生成し、受信エンドポイントを
// 自分自身のHTTPサーバーに向ける。
type Platform interface {
	// Permission は通知許可状態を返す。
	Permission(ctx context.Context) (Permission, error)
	// Existing は保持中の購読を返す。存在しない場合は (nil, nil)。
	Existing(ctx context.Context) (*model.PushSubscription, error)
	// CreateSubscription は新しい鍵ペアとエンドポイントを持つ購読を
	// 生成して保持する。
	CreateSubscription(ctx context.Context) (*model.PushSubscription, error)
	// RemoveSubscription は保持中の購読を破棄する。存在しない場合は何もしない。
	RemoveSubscription(ctx context.Context) error
	// Keys は指定購読の復号鍵を返す。
	Keys(ctx context.Context, subscriptionID string) (*model.SubscriptionKeys, error)
}

// LocalPlatform はこのゲートウェイ自身を受信側とするPlatform実装。
// ECDH P-256の鍵ペアと認証シークレットを生成し、購読と鍵を
// ストアに永続化する。通知許可は設定で制御され、実行中は変化しない。
type LocalPlatform struct {
	repo      repository.SubscriptionRepository
	publicURL string
	granted   bool
}

// NewLocalPlatform はLocalPlatformの新しいインスタンスを生成する。
// publicURLは受信エンドポイントの基点となる自ホストのURL。
func NewLocalPlatform(repo repository.SubscriptionRepository, publicURL string, granted bool) *LocalPlatform {
	return &LocalPlatform{
		repo:      repo,
		publicURL: publicURL,
		granted:   granted,
	}
}

// Permission は設定由来の通知許可状態を返す。
func (p *LocalPlatform) Permission(ctx context.Context) (Permission, error) {
	if !p.granted {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// Existing は保持中の購読を返す。
func (p *LocalPlatform) Existing(ctx context.Context) (*model.PushSubscription, error) {
	sub, _, err := p.repo.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// CreateSubscription は新しい購読を生成して保持する。
// 購読は常に高々1件であり、既存の購読は置き換えられる。
func (p *LocalPlatform) CreateSubscription(ctx context.Context) (*model.PushSubscription, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("鍵ペアの生成に失敗しました: %w", err)
	}

	authSecret := make([]byte, 16)
	if _, err := rand.Read(authSecret); err != nil {
		return nil, fmt.Errorf("認証シークレットの生成に失敗しました: %w", err)
	}

	id := uuid.NewString()
	sub := &model.PushSubscription{
		ID:        id,
		Endpoint:  p.publicURL + "/push/" + id,
		P256dh:    base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:      base64.RawURLEncoding.EncodeToString(authSecret),
		CreatedAt: time.Now(),
	}
	keys := &model.SubscriptionKeys{
		PrivateKey: priv.Bytes(),
		AuthSecret: authSecret,
	}

	if err := p.repo.Save(ctx, sub, keys); err != nil {
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}

	return sub, nil
}

// RemoveSubscription は保持中の購読を破棄する。
func (p *LocalPlatform) RemoveSubscription(ctx context.Context) error {
	if err := p.repo.Delete(ctx); err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}

// Keys は指定購読の復号鍵を返す。
func (p *LocalPlatform) Keys(ctx context.Context, subscriptionID string) (*model.SubscriptionKeys, error) {
	sub, keys, err := p.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("購読が見つかりません: %s", subscriptionID)
	}
	return keys, nil
}
