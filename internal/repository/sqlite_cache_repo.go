package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/storygate/internal/model"
)

// SQLiteCacheRepo はSQLiteを使用したキャッシュリポジトリ。
type SQLiteCacheRepo struct {
	db *sql.DB
}

// NewSQLiteCacheRepo はSQLiteCacheRepoを生成する。
func NewSQLiteCacheRepo(db *sql.DB) *SQLiteCacheRepo {
	return &SQLiteCacheRepo{db: db}
}

// CreateGeneration は新しいキャッシュ世代を作成する。
func (r *SQLiteCacheRepo) CreateGeneration(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cache_generations (name, is_current, created_at) VALUES (?, 0, ?)`,
		name, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("キャッシュ世代の作成に失敗しました: %w", err)
	}
	return nil
}

// ActivateGeneration は指定世代を唯一の現行世代にする。
func (r *SQLiteCacheRepo) ActivateGeneration(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE cache_generations SET is_current = 0 WHERE is_current = 1`,
	); err != nil {
		return fmt.Errorf("旧世代のフラグ解除に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE cache_generations SET is_current = 1 WHERE name = ?`, name,
	)
	if err != nil {
		return fmt.Errorf("世代のアクティベーションに失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("アクティベーション対象の世代が存在しません: %s", name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// CurrentGeneration は現行世代を取得する。存在しない場合はnilを返す。
func (r *SQLiteCacheRepo) CurrentGeneration(ctx context.Context) (*model.CacheGeneration, error) {
	gen := &model.CacheGeneration{}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, is_current, created_at FROM cache_generations WHERE is_current = 1`,
	).Scan(&gen.Name, &gen.IsCurrent, &gen.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("現行世代の取得に失敗しました: %w", err)
	}
	return gen, nil
}

// ListGenerations は全世代を取得する。
func (r *SQLiteCacheRepo) ListGenerations(ctx context.Context) ([]model.CacheGeneration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, is_current, created_at FROM cache_generations ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("世代一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var gens []model.CacheGeneration
	for rows.Next() {
		var gen model.CacheGeneration
		if err := rows.Scan(&gen.Name, &gen.IsCurrent, &gen.CreatedAt); err != nil {
			return nil, fmt.Errorf("世代のスキャンに失敗しました: %w", err)
		}
		gens = append(gens, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("世代一覧の読み取りに失敗しました: %w", err)
	}
	return gens, nil
}

// DeleteGeneration は指定世代を削除する。
// キャッシュエントリはON DELETE CASCADEにより同時に削除される。
func (r *SQLiteCacheRepo) DeleteGeneration(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_generations WHERE name = ?`, name,
	)
	if err != nil {
		return fmt.Errorf("世代の削除に失敗しました: %w", err)
	}
	return nil
}

// PutResponse はレスポンスを指定世代のキャッシュへアップサートする。
func (r *SQLiteCacheRepo) PutResponse(ctx context.Context, generation, requestKey string, res *model.CachedResponse) error {
	headers, err := json.Marshal(res.Headers)
	if err != nil {
		return fmt.Errorf("ヘッダのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cached_responses (generation, request_key, status, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (generation, request_key) DO UPDATE SET
		   status = excluded.status,
		   headers = excluded.headers,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		generation, requestKey, res.Status, string(headers), res.Body, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("キャッシュエントリの保存に失敗しました: %w", err)
	}
	return nil
}

// GetResponse は指定世代のキャッシュからレスポンスを取得する。見つからない場合はnilを返す。
func (r *SQLiteCacheRepo) GetResponse(ctx context.Context, generation, requestKey string) (*model.CachedResponse, error) {
	res := &model.CachedResponse{}
	var headers string
	err := r.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM cached_responses
		 WHERE generation = ? AND request_key = ?`,
		generation, requestKey,
	).Scan(&res.Status, &headers, &res.Body, &res.StoredAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャッシュエントリの取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal([]byte(headers), &res.Headers); err != nil {
		return nil, fmt.Errorf("ヘッダのデシリアライズに失敗しました: %w", err)
	}
	return res, nil
}

// DeleteStaleResponses はキー前方一致かつcutoffより古いエントリを削除する。
func (r *SQLiteCacheRepo) DeleteStaleResponses(ctx context.Context, generation, keyPrefix string, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cached_responses
		 WHERE generation = ? AND request_key LIKE ? || '%' AND stored_at < ?`,
		generation, keyPrefix, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古いキャッシュエントリの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}
