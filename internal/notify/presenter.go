package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/security"
)

// Displayer は通知を実際に表示する出力先の抽象。
// デスクトップ通知、ログ出力、テスト用の記録などが実装できる。
type Displayer interface {
	// Display は通知を表示する。
	Display(ctx context.Context, payload *model.NotificationPayload) error
	// Close は同一タグの表示中の通知を閉じる。
	Close(ctx context.Context, tag string) error
}

// Windows は開いているアプリ画面の抽象。クリック時の遷移先制御に使う。
type Windows interface {
	// FocusExisting は同一オリジンの既存画面があればフォーカスして
	// trueを返す。なければfalseを返す。
	FocusExisting(ctx context.Context) (bool, error)
	// OpenURL は新しい画面を指定URLで開く。
	OpenURL(ctx context.Context, url string) error
}

// Presenter は受信ペイロードを正規化して表示し、クリックを処理する。
type Presenter struct {
	displayer Displayer
	windows   Windows
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
}

// NewPresenter はPresenterの新しいインスタンスを生成する。
func NewPresenter(displayer Displayer, windows Windows, sanitizer security.TextSanitizerService, logger *slog.Logger) *Presenter {
	return &Presenter{
		displayer: displayer,
		windows:   windows,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Present は受信ペイロードを正規化・サニタイズして表示する。
// 不正なペイロードは既定値へ縮退するため表示は常に行われる。
// 表示自体に失敗した場合は最小構成の通知へフォールバックし、
// 通知が一切出ない状態を避ける。
func (p *Presenter) Present(ctx context.Context, raw []byte) (*model.NotificationPayload, error) {
	payload := Normalize(raw)
	payload.Title = p.sanitizer.SanitizeText(payload.Title)
	payload.Body = p.sanitizer.SanitizeText(payload.Body)

	if err := p.displayer.Display(ctx, payload); err != nil {
		p.logger.Error("通知の表示に失敗しました。最小構成へフォールバックします",
			slog.String("error", err.Error()),
		)
		fallback := &model.NotificationPayload{
			Title: DefaultTitle,
			Body:  DefaultBody,
			Tag:   DefaultTag,
			URL:   DefaultURL,
		}
		if err := p.displayer.Display(ctx, fallback); err != nil {
			return nil, fmt.Errorf("フォールバック通知の表示に失敗しました: %w", err)
		}
		return fallback, nil
	}

	p.logger.Info("通知を表示しました", slog.String("tag", payload.Tag))
	return payload, nil
}

// HandleClick は通知に対するユーザー操作を処理する。
// 本文または表示アクションのクリックは通知を閉じ、同一オリジンの
// 既存画面があればフォーカスし、なければペイロードのURLで新しい画面を開く。
// 破棄アクションは通知を閉じるだけで遷移しない。
func (p *Presenter) HandleClick(ctx context.Context, action model.NotificationAction, payload *model.NotificationPayload) error {
	if err := p.displayer.Close(ctx, payload.Tag); err != nil {
		p.logger.Warn("通知のクローズに失敗しました", slog.String("error", err.Error()))
	}

	switch action {
	case model.ActionDismiss:
		return nil
	case model.ActionView, model.ActionDefault:
		focused, err := p.windows.FocusExisting(ctx)
		if err != nil {
			return fmt.Errorf("既存画面の確認に失敗しました: %w", err)
		}
		if focused {
			return nil
		}
		if err := p.windows.OpenURL(ctx, payload.URL); err != nil {
			return fmt.Errorf("画面のオープンに失敗しました: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("未知のアクションです: %s", action)
	}
}
