package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteTokenRepo はSQLiteを使用したトークンリポジトリ。
type SQLiteTokenRepo struct {
	db *sql.DB
}

// NewSQLiteTokenRepo はSQLiteTokenRepoを生成する。
func NewSQLiteTokenRepo(db *sql.DB) *SQLiteTokenRepo {
	return &SQLiteTokenRepo{db: db}
}

// Set は値をキーでアップサートする。
func (r *SQLiteTokenRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}
	return nil
}

// Get は指定キーの値を取得する。存在しない場合は空文字列を返す。
func (r *SQLiteTokenRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM auth_tokens WHERE key = ?`, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}
	return value, nil
}

// Delete は指定キーの値を削除する。存在しない場合もエラーにならない。
func (r *SQLiteTokenRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE key = ?`, key,
	)
	if err != nil {
		return fmt.Errorf("トークンの削除に失敗しました: %w", err)
	}
	return nil
}
