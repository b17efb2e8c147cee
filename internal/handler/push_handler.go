package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storygate/internal/model"
)

// PushCoordinatorInterface は購読ハンドラーが必要とするコーディネーターの
// インターフェース。
type PushCoordinatorInterface interface {
	Subscribe(ctx context.Context) (*model.PushSubscription, error)
	Unsubscribe(ctx context.Context) error
	Status(ctx context.Context) (bool, *model.PushSubscription, error)
}

// KeyResolver は受信エンドポイントが購読IDから復号鍵を引くインターフェース。
type KeyResolver interface {
	Keys(ctx context.Context, subscriptionID string) (*model.SubscriptionKeys, error)
}

// MessageDecrypter は暗号化されたプッシュメッセージを復号する関数。
type MessageDecrypter func(body []byte, keys *model.SubscriptionKeys) ([]byte, error)

// PresenterInterface は受信ペイロードの表示とクリック操作を扱うインターフェース。
type PresenterInterface interface {
	Present(ctx context.Context, raw []byte) (*model.NotificationPayload, error)
	HandleClick(ctx context.Context, action model.NotificationAction, payload *model.NotificationPayload) error
}

// SenderInterface はテスト通知を送信するインターフェース。
type SenderInterface interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload *model.NotificationPayload) error
}

// PushHandler はプッシュ購読と受信のHTTPハンドラー。
type PushHandler struct {
	coordinator PushCoordinatorInterface
	keys        KeyResolver
	decrypt     MessageDecrypter
	presenter   PresenterInterface
	sender      SenderInterface
	logger      *slog.Logger
	maxBodySize int64
}

// NewPushHandler はPushHandlerを生成する。
func NewPushHandler(coordinator PushCoordinatorInterface, keys KeyResolver, decrypt MessageDecrypter, presenter PresenterInterface, sender SenderInterface, logger *slog.Logger, maxBodySize int64) *PushHandler {
	return &PushHandler{
		coordinator: coordinator,
		keys:        keys,
		decrypt:     decrypt,
		presenter:   presenter,
		sender:      sender,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Subscribe は購読を作成してサーバーへ登録する。
// POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := h.coordinator.Subscribe(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// Unsubscribe は購読をサーバーから解除してローカルを破棄する。
// POST /api/push/unsubscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Unsubscribe(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status は購読状態を返す。
// GET /api/push/status
func (h *PushHandler) Status(w http.ResponseWriter, r *http.Request) {
	subscribed, sub, err := h.coordinator.Status(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	body := map[string]any{"subscribed": subscribed}
	if sub != nil {
		body["subscription"] = toSubscriptionResponse(sub)
	}
	writeJSONResponse(w, http.StatusOK, body)
}

// SendTest は現在の購読へテスト通知を送信する。
// POST /api/push/test
func (h *PushHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	subscribed, sub, err := h.coordinator.Status(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !subscribed {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "NOT_SUBSCRIBED",
			Message:  "購読が存在しません。",
			Category: "push",
			Action:   "先に購読を作成してください。",
		})
		return
	}

	payload := &model.NotificationPayload{
		Title: "テスト通知",
		Body:  "プッシュ通知の送達経路は正常です",
		Tag:   "storygate-test",
		URL:   "/",
	}
	if err := h.sender.Send(r.Context(), sub, payload); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Receive は購読エンドポイントへの受信プッシュを処理する。
// Content-Encodingがaes128gcmの場合は購読の鍵で復号し、
// それ以外はボディをそのままペイロードとして扱う。
// 不正なペイロードでも表示は既定値へ縮退して行われる。
// POST /push/:subscriptionID
func (h *PushHandler) Receive(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの読み取りに失敗しました。",
			Category: "validation",
			Action:   "リクエストを確認してください。",
		})
		return
	}

	if r.Header.Get("Content-Encoding") == "aes128gcm" {
		keys, err := h.keys.Keys(r.Context(), subscriptionID)
		if err != nil {
			h.logger.Warn("未知の購読へのプッシュを破棄します",
				slog.String("subscription_id", subscriptionID))
			writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
				Code:     "SUBSCRIPTION_NOT_FOUND",
				Message:  "購読が見つかりません。",
				Category: "push",
				Action:   "購読を作成し直してください。",
			})
			return
		}

		plaintext, err := h.decrypt(body, keys)
		if err != nil {
			h.logger.Warn("プッシュメッセージの復号に失敗しました",
				slog.String("subscription_id", subscriptionID),
				slog.String("error", err.Error()))
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "DECRYPT_FAILED",
				Message:  "メッセージの復号に失敗しました。",
				Category: "push",
				Action:   "購読を作成し直してください。",
			})
			return
		}
		body = plaintext
	}

	if _, err := h.presenter.Present(r.Context(), body); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// clickRequest は通知クリックのリクエストボディ。
type clickRequest struct {
	Action  string                     `json:"action"`
	Payload *model.NotificationPayload `json:"payload"`
}

// Click は表示済み通知に対するクリック操作を処理する。
// view/default は既存画面のフォーカスまたはペイロードURLへの遷移、
// dismiss は通知を閉じるだけの操作になる。
// POST /api/push/click
func (h *PushHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxBodySize)).Decode(&req); err != nil || req.Payload == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "リクエストの形式を確認してください。",
		})
		return
	}

	// アクション未指定は通知本体のクリック（ActionDefault）として扱う
	action := model.NotificationAction(req.Action)

	if err := h.presenter.HandleClick(r.Context(), action, req.Payload); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "不明な通知アクションです。",
			Category: "validation",
			Action:   "view・dismissのいずれかを指定してください。",
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toSubscriptionResponse(sub *model.PushSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:       sub.ID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}
}
