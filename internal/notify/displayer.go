package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/storygate/internal/model"
)

// inboxCapacity は保持する通知の上限。古いものから捨てられる。
const inboxCapacity = 50

// Inbox は表示済み通知を保持するDisplayer実装。
// デーモンにはデスクトップ通知面がないため、構造化ログに出力しつつ
// 直近の通知を取得可能な形で保持する。
type Inbox struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []*model.NotificationPayload
}

// NewInbox はInboxの新しいインスタンスを生成する。
func NewInbox(logger *slog.Logger) *Inbox {
	return &Inbox{logger: logger}
}

// Display は通知をログに出力し、受信箱へ追加する。
func (i *Inbox) Display(ctx context.Context, payload *model.NotificationPayload) error {
	i.mu.Lock()
	i.entries = append(i.entries, payload)
	if len(i.entries) > inboxCapacity {
		i.entries = i.entries[len(i.entries)-inboxCapacity:]
	}
	i.mu.Unlock()

	i.logger.Info("通知を受信しました",
		slog.String("title", payload.Title),
		slog.String("body", payload.Body),
		slog.String("tag", payload.Tag),
		slog.String("url", payload.URL),
	)
	return nil
}

// Close は同一タグの通知を受信箱から取り除く。
func (i *Inbox) Close(ctx context.Context, tag string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	kept := i.entries[:0]
	for _, e := range i.entries {
		if e.Tag != tag {
			kept = append(kept, e)
		}
	}
	i.entries = kept
	return nil
}

// Recent は保持中の通知を新しい順で返す。
func (i *Inbox) Recent() []*model.NotificationPayload {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]*model.NotificationPayload, 0, len(i.entries))
	for idx := len(i.entries) - 1; idx >= 0; idx-- {
		out = append(out, i.entries[idx])
	}
	return out
}

// LogWindows は画面遷移をログとして記録するWindows実装。
// ゲートウェイは画面を持たないため、フォーカスは常に不成立として扱い、
// 遷移先URLをログに残す。
type LogWindows struct {
	logger *slog.Logger
}

// NewLogWindows はLogWindowsの新しいインスタンスを生成する。
func NewLogWindows(logger *slog.Logger) *LogWindows {
	return &LogWindows{logger: logger}
}

// FocusExisting は常にfalseを返す。
func (w *LogWindows) FocusExisting(ctx context.Context) (bool, error) {
	return false, nil
}

// OpenURL は遷移先URLをログに記録する。
func (w *LogWindows) OpenURL(ctx context.Context, url string) error {
	w.logger.Info("通知クリックによる画面遷移", slog.String("url", url))
	return nil
}
