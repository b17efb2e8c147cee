// Package model はドメインモデルを定義する。
package model

import "time"

// PinnedStory はユーザーがオフライン閲覧用に明示的に保存したストーリーを表す。
// ネットワークキャッシュとは独立した耐久ストアに保存され、
// キャッシュ世代の入れ替えやプロセス再起動を超えて生存する。
type PinnedStory struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	CreatedAt   *time.Time // APIが日時を返さない場合はnil
	Location    *Location  // 位置情報がない場合はnil
	PinnedAt    time.Time
}

// Location はストーリーに付与された位置情報を表す。
type Location struct {
	Lat float64
	Lng float64
}

// Story はリモートAPIから取得したストーリーを表す。
// PinnedStoryと同じ形を持つが、まだピン留めされていない。
type Story struct {
	ID          string
	Title       string
	Description string
	ImageURL    string
	CreatedAt   *time.Time
	Location    *Location
}

// Pin はStoryをPinnedStoryに変換する。ピン留め時刻はnowを使用する。
func (s *Story) Pin(now time.Time) *PinnedStory {
	return &PinnedStory{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		ImageURL:    s.ImageURL,
		CreatedAt:   s.CreatedAt,
		Location:    s.Location,
		PinnedAt:    now,
	}
}
