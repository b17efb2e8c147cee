package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/storygate/internal/model"
)

// SQLitePinRepo はSQLiteを使用したピン留めストーリーリポジトリ。
type SQLitePinRepo struct {
	db *sql.DB
}

// NewSQLitePinRepo はSQLitePinRepoを生成する。
func NewSQLitePinRepo(db *sql.DB) *SQLitePinRepo {
	return &SQLitePinRepo{db: db}
}

// Save はストーリーをIDでアップサートする。
func (r *SQLitePinRepo) Save(ctx context.Context, story *model.PinnedStory) error {
	var lat, lng *float64
	if story.Location != nil {
		lat = &story.Location.Lat
		lng = &story.Location.Lng
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pinned_stories (id, title, description, image_url, created_at, lat, lng, pinned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   image_url = excluded.image_url,
		   created_at = excluded.created_at,
		   lat = excluded.lat,
		   lng = excluded.lng,
		   pinned_at = excluded.pinned_at`,
		story.ID, story.Title, story.Description, story.ImageURL,
		story.CreatedAt, lat, lng, story.PinnedAt,
	)
	if err != nil {
		return fmt.Errorf("ストーリーの保存に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのストーリーを削除する。存在しない場合もエラーにならない。
func (r *SQLitePinRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pinned_stories WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("ストーリーの削除に失敗しました: %w", err)
	}
	return nil
}

// FindAll は全ピン留めストーリーを取得する。
func (r *SQLitePinRepo) FindAll(ctx context.Context) ([]model.PinnedStory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, image_url, created_at, lat, lng, pinned_at
		 FROM pinned_stories`,
	)
	if err != nil {
		return nil, fmt.Errorf("ストーリー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stories []model.PinnedStory
	for rows.Next() {
		var story model.PinnedStory
		var lat, lng *float64
		if err := rows.Scan(
			&story.ID, &story.Title, &story.Description, &story.ImageURL,
			&story.CreatedAt, &lat, &lng, &story.PinnedAt,
		); err != nil {
			return nil, fmt.Errorf("ストーリーのスキャンに失敗しました: %w", err)
		}
		if lat != nil && lng != nil {
			story.Location = &model.Location{Lat: *lat, Lng: *lng}
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ストーリー一覧の読み取りに失敗しました: %w", err)
	}
	return stories, nil
}

// Exists は指定IDのストーリーが保存済みかを返す。
func (r *SQLitePinRepo) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM pinned_stories WHERE id = ?`, id,
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ストーリーの存在確認に失敗しました: %w", err)
	}
	return true, nil
}
