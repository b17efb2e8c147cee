package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/security"
)

// TokenSource は認証トークンの供給元。auth.Storeが実装する。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ServerAPI はストーリーサーバーの購読登録APIの抽象。
type ServerAPI interface {
	// Subscribe は購読をサーバーに登録する。既登録の購読を
	// 再送しても成功する（冪等）。
	Subscribe(ctx context.Context, sub *model.PushSubscription) error
	// Unsubscribe はエンドポイントの登録をサーバーから解除する。
	Unsubscribe(ctx context.Context, endpoint string) error
}

// ServerClient はストーリーサーバーの購読登録APIクライアント。
type ServerClient struct {
	guard   security.FetchGuardService
	tokens  TokenSource
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
}

// NewServerClient はServerClientの新しいインスタンスを生成する。
// baseURLはストーリーAPIの基点URL（末尾スラッシュなし）。
func NewServerClient(guard security.FetchGuardService, tokens TokenSource, logger *slog.Logger, baseURL string, timeout time.Duration) *ServerClient {
	return &ServerClient{
		guard:   guard,
		tokens:  tokens,
		logger:  logger,
		baseURL: baseURL,
		timeout: timeout,
	}
}

// subscribeRequest は購読登録APIのリクエストボディ。
type subscribeRequest struct {
	Endpoint string         `json:"endpoint"`
	Keys     *subscribeKeys `json:"keys,omitempty"`
}

type subscribeKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscribe は購読をサーバーに登録する。
func (c *ServerClient) Subscribe(ctx context.Context, sub *model.PushSubscription) error {
	body := subscribeRequest{
		Endpoint: sub.Endpoint,
		Keys: &subscribeKeys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}
	return c.send(ctx, http.MethodPost, body)
}

// Unsubscribe はエンドポイントの登録をサーバーから解除する。
func (c *ServerClient) Unsubscribe(ctx context.Context, endpoint string) error {
	return c.send(ctx, http.MethodDelete, subscribeRequest{Endpoint: endpoint})
}

func (c *ServerClient) send(ctx context.Context, method string, body subscribeRequest) error {
	endpoint := c.baseURL + "/notifications/subscribe"
	if err := c.guard.ValidateURL(endpoint); err != nil {
		return fmt.Errorf("購読APIのURL検証に失敗しました: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("認証トークンの取得に失敗しました: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.guard.ClientFor(endpoint, c.timeout)
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("購読APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("購読APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("購読APIがステータス %d を返しました: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
