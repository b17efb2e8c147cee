package model

// NotificationPayload は表示可能な形に正規化されたプッシュ通知を表す。
// 受信ペイロードの欠損フィールドはデフォルト値で補完済み。
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
	Tag   string `json:"tag"`
	URL   string `json:"url"`
}

// NotificationAction は表示された通知に対するユーザー操作の種別を表す。
type NotificationAction string

const (
	// ActionView は「見る」ボタンのクリック。
	ActionView NotificationAction = "view"
	// ActionDefault は通知本体の直接クリック。
	ActionDefault NotificationAction = ""
	// ActionDismiss は「閉じる」ボタンのクリック。
	ActionDismiss NotificationAction = "close"
)
