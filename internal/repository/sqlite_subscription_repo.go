package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/storygate/internal/model"
)

// SQLiteSubscriptionRepo はSQLiteを使用したプッシュ購読リポジトリ。
// アクティブな購読は最大1件であり、Saveは既存の行をすべて置き換える。
type SQLiteSubscriptionRepo struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepo はSQLiteSubscriptionRepoを生成する。
func NewSQLiteSubscriptionRepo(db *sql.DB) *SQLiteSubscriptionRepo {
	return &SQLiteSubscriptionRepo{db: db}
}

// Save は購読と秘密鍵素材を保存する。既存の購読は同一トランザクション内で削除される。
func (r *SQLiteSubscriptionRepo) Save(ctx context.Context, sub *model.PushSubscription, keys *model.SubscriptionKeys) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// 最大1件の不変条件を保つため、既存の購読を先に削除する
	if _, err := tx.ExecContext(ctx, `DELETE FROM push_subscriptions`); err != nil {
		return fmt.Errorf("既存購読の削除に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, endpoint, p256dh, auth, private_key, auth_secret, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth,
		keys.PrivateKey, keys.AuthSecret, time.Now(),
	); err != nil {
		return fmt.Errorf("購読の保存に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Find は現在の購読を取得する。存在しない場合は両方nilを返す。
func (r *SQLiteSubscriptionRepo) Find(ctx context.Context) (*model.PushSubscription, *model.SubscriptionKeys, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, endpoint, p256dh, auth, private_key, auth_secret, created_at
		 FROM push_subscriptions LIMIT 1`,
	))
}

// FindByID は指定IDの購読を取得する。見つからない場合は両方nilを返す。
func (r *SQLiteSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, *model.SubscriptionKeys, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, endpoint, p256dh, auth, private_key, auth_secret, created_at
		 FROM push_subscriptions WHERE id = ?`, id,
	))
}

func (r *SQLiteSubscriptionRepo) scanOne(row *sql.Row) (*model.PushSubscription, *model.SubscriptionKeys, error) {
	sub := &model.PushSubscription{}
	keys := &model.SubscriptionKeys{}
	err := row.Scan(
		&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
		&keys.PrivateKey, &keys.AuthSecret, &sub.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, keys, nil
}

// Delete は現在の購読を削除する。存在しない場合もエラーにならない。
func (r *SQLiteSubscriptionRepo) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions`)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}
