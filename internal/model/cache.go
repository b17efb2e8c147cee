package model

import "time"

// CacheGeneration はプリキャッシュ済みアセット一式の1バージョンを表す。
// 名前はデプロイごとに新しいラベルで置き換えられる（インクリメントではない）。
// 「現行」の世代は常にちょうど1つで、現行以外の世代に属する
// キャッシュエントリはアクティベーション時に削除される。
type CacheGeneration struct {
	Name      string
	IsCurrent bool
	CreatedAt time.Time
}

// CachedResponse は世代に紐づく名前付きキャッシュに保存された
// (リクエストキー, レスポンスバイト列, ヘッダ) の組を表す。
// 所有権は世代にあり、世代をまたいだ共有は行わない。
type CachedResponse struct {
	Status   int
	Headers  map[string][]string
	Body     []byte
	StoredAt time.Time
}
