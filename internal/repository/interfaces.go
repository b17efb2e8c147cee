// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/storygate/internal/model"
)

// CacheRepository はキャッシュ世代とキャッシュ済みレスポンスの永続化インターフェース。
type CacheRepository interface {
	// CreateGeneration は新しいキャッシュ世代を作成する。この時点では現行にはならない。
	CreateGeneration(ctx context.Context, name string) error

	// ActivateGeneration は指定世代を唯一の現行世代にする。
	// それまでの現行世代のフラグは同一トランザクション内で解除される。
	ActivateGeneration(ctx context.Context, name string) error

	// CurrentGeneration は現行世代を取得する。存在しない場合はnilを返す。
	CurrentGeneration(ctx context.Context) (*model.CacheGeneration, error)

	// ListGenerations は全世代を取得する。
	ListGenerations(ctx context.Context) ([]model.CacheGeneration, error)

	// DeleteGeneration は指定世代とそのキャッシュエントリを削除する。
	// 世代が存在しない場合もエラーにならない。
	DeleteGeneration(ctx context.Context, name string) error

	// PutResponse はレスポンスを指定世代のキャッシュへアップサートする。
	PutResponse(ctx context.Context, generation, requestKey string, res *model.CachedResponse) error

	// GetResponse は指定世代のキャッシュからレスポンスを取得する。
	// 見つからない場合はnilを返す。
	GetResponse(ctx context.Context, generation, requestKey string) (*model.CachedResponse, error)

	// DeleteStaleResponses は指定世代内でキーが前方一致し、かつ
	// cutoffより古いキャッシュエントリを削除し、削除件数を返す。
	DeleteStaleResponses(ctx context.Context, generation, keyPrefix string, cutoff time.Time) (int64, error)
}

// PinRepository はピン留めストーリーの永続化インターフェース。
type PinRepository interface {
	// Save はストーリーをIDでアップサートする。同一IDの再保存は上書きとなる（冪等）。
	Save(ctx context.Context, story *model.PinnedStory) error

	// Delete は指定IDのストーリーを削除する。存在しない場合もエラーにならない。
	Delete(ctx context.Context, id string) error

	// FindAll は全ピン留めストーリーを取得する。順序に意味はない。
	FindAll(ctx context.Context) ([]model.PinnedStory, error)

	// Exists は指定IDのストーリーが保存済みかを返す。
	Exists(ctx context.Context, id string) (bool, error)
}

// SubscriptionRepository はプッシュ購読の永続化インターフェース。
// アクティブな購読は最大1件であり、Saveは既存の購読を置き換える。
type SubscriptionRepository interface {
	// Save は購読と秘密鍵素材を保存する。既存の購読は置き換えられる。
	Save(ctx context.Context, sub *model.PushSubscription, keys *model.SubscriptionKeys) error

	// Find は現在の購読を取得する。存在しない場合は両方nilを返す。
	Find(ctx context.Context) (*model.PushSubscription, *model.SubscriptionKeys, error)

	// FindByID は指定IDの購読を取得する。見つからない場合は両方nilを返す。
	FindByID(ctx context.Context, id string) (*model.PushSubscription, *model.SubscriptionKeys, error)

	// Delete は現在の購読を削除する。存在しない場合もエラーにならない。
	Delete(ctx context.Context) error
}

// TokenRepository は認証トークンなどの小さなキー値の永続化インターフェース。
type TokenRepository interface {
	// Set は値をキーでアップサートする。
	Set(ctx context.Context, key, value string) error

	// Get は指定キーの値を取得する。存在しない場合は空文字列を返す。
	Get(ctx context.Context, key string) (string, error)

	// Delete は指定キーの値を削除する。存在しない場合もエラーにならない。
	Delete(ctx context.Context, key string) error
}
