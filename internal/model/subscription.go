package model

import "time"

// PushSubscription はこのゲートウェイとプッシュサービスの結合を表す。
// 同時にアクティブな購読は最大1つ。isSubscribed相当のフラグは保持せず、
// 購読状態は常にストア上の行の有無から導出する。
type PushSubscription struct {
	ID        string
	Endpoint  string // プッシュ送信先URL
	P256dh    string // 暗号化用公開鍵（base64url）
	Auth      string // 認証シークレット（base64url）
	CreatedAt time.Time
}

// SubscriptionKeys は購読のローカル秘密鍵素材を表す。
// リモートサーバーには送信されず、受信ペイロードの復号にのみ使用する。
type SubscriptionKeys struct {
	PrivateKey []byte // ECDH P-256秘密鍵
	AuthSecret []byte // 16バイトの認証シークレット
}
