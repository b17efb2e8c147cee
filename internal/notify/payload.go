// Package notify はプッシュペイロードの正規化と通知の表示・クリック処理を提供する。
package notify

import (
	"encoding/json"
	"strings"

	"github.com/hitoshi/storygate/internal/model"
)

// 既定の通知ペイロード。不正なペイロードはこの既定値へ縮退する。
const (
	DefaultTitle = "ストーリーアプリ"
	DefaultBody  = "新しい通知があります"
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
	DefaultTag   = "story-notification"
	DefaultURL   = "/"
)

// inboundPayload は外部サーバーから届くペイロードの構造。
// すべてのフィールドは欠落しうる。
type inboundPayload struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Icon    string `json:"icon"`
	Badge   string `json:"badge"`
	Tag     string `json:"tag"`
	Options struct {
		Body  string `json:"body"`
		Icon  string `json:"icon"`
		Badge string `json:"badge"`
		Tag   string `json:"tag"`
	} `json:"options"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Normalize は受信ペイロードを表示可能な形に正規化する。
// JSONとして解釈できればフィールドごとに既定値へフォールバックしながら
// 重ね合わせる（options.field → トップレベル → 既定値）。JSONでなければ
// 空白を除いたテキストをボディとして使い、空なら完全な既定値を返す。
// この関数は失敗しない。
func Normalize(raw []byte) *model.NotificationPayload {
	payload := &model.NotificationPayload{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Tag:   DefaultTag,
		URL:   DefaultURL,
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return payload
	}

	var inbound inboundPayload
	if err := json.Unmarshal([]byte(trimmed), &inbound); err != nil {
		// 構造化されていないペイロードはテキストとしてボディに使う
		payload.Body = trimmed
		return payload
	}

	if inbound.Title != "" {
		payload.Title = inbound.Title
	}
	payload.Body = firstNonEmpty(inbound.Options.Body, inbound.Body, DefaultBody)
	payload.Icon = firstNonEmpty(inbound.Options.Icon, inbound.Icon, DefaultIcon)
	payload.Badge = firstNonEmpty(inbound.Options.Badge, inbound.Badge, DefaultBadge)
	payload.Tag = firstNonEmpty(inbound.Options.Tag, inbound.Tag, DefaultTag)
	payload.URL = firstNonEmpty(inbound.Data.URL, DefaultURL)

	return payload
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
