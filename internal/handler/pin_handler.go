// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storygate/internal/model"
)

// PinServiceInterface はピン留めハンドラーが必要とするサービスインターフェース。
type PinServiceInterface interface {
	// Pin はストーリーをAPIから取得してオフライン保存する。
	Pin(ctx context.Context, id string) (*model.PinnedStory, error)
	// Unpin はピン留めを解除する。
	Unpin(ctx context.Context, id string) error
	// List は全ピン留めストーリーを返す。
	List(ctx context.Context) ([]model.PinnedStory, error)
	// Save は取得済みのストーリーをそのままオフライン保存する。
	Save(ctx context.Context, story *model.Story) (*model.PinnedStory, error)
	// IsSaved は指定IDがピン留め済みかを返す。
	IsSaved(ctx context.Context, id string) (bool, error)
}

// PinHandler はピン留めストーリーのHTTPハンドラー。
type PinHandler struct {
	service PinServiceInterface
}

// NewPinHandler はPinHandlerを生成する。
func NewPinHandler(service PinServiceInterface) *PinHandler {
	return &PinHandler{service: service}
}

// locationResponse は位置情報のAPIレスポンス。
type locationResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// pinnedStoryResponse はピン留めストーリーのAPIレスポンス。
type pinnedStoryResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"image_url"`
	CreatedAt   *string           `json:"created_at"`
	Location    *locationResponse `json:"location"`
	PinnedAt    string            `json:"pinned_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListPins はピン留めストーリーの一覧を返す。
// GET /api/pins
func (h *PinHandler) ListPins(w http.ResponseWriter, r *http.Request) {
	pins, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]pinnedStoryResponse, 0, len(pins))
	for i := range pins {
		responses = append(responses, toPinnedStoryResponse(&pins[i]))
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"pins": responses})
}

// PinStory はストーリーをIDでピン留めする。
// POST /api/pins/:id
func (h *PinHandler) PinStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pinned, err := h.service.Pin(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toPinnedStoryResponse(pinned))
}

// saveStoryRequest はクライアントが取得済みのストーリーを直接保存するリクエスト。
type saveStoryRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"image_url"`
	CreatedAt   *string           `json:"created_at"`
	Location    *locationResponse `json:"location"`
}

// SavePin はリクエストボディのストーリーをAPIを介さず直接ピン留めする。
// オフライン中に画面側が保持しているストーリーを保存する経路。
// PUT /api/pins/:id
func (h *PinHandler) SavePin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req saveStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "リクエストの形式を確認してください。",
		})
		return
	}

	story := &model.Story{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	}
	if req.CreatedAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.CreatedAt)
		if err == nil {
			story.CreatedAt = &parsed
		}
	}
	if req.Location != nil {
		story.Location = &model.Location{Lat: req.Location.Lat, Lng: req.Location.Lng}
	}

	pinned, err := h.service.Save(r.Context(), story)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toPinnedStoryResponse(pinned))
}

// UnpinStory はピン留めを解除する。
// DELETE /api/pins/:id
func (h *PinHandler) UnpinStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Unpin(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IsSaved はピン留め済みかを返す。
// GET /api/pins/:id/saved
func (h *PinHandler) IsSaved(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	saved, err := h.service.IsSaved(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"saved": saved})
}

func toPinnedStoryResponse(pinned *model.PinnedStory) pinnedStoryResponse {
	resp := pinnedStoryResponse{
		ID:          pinned.ID,
		Title:       pinned.Title,
		Description: pinned.Description,
		ImageURL:    pinned.ImageURL,
		PinnedAt:    pinned.PinnedAt.Format(time.RFC3339),
	}
	if pinned.CreatedAt != nil {
		formatted := pinned.CreatedAt.Format(time.RFC3339)
		resp.CreatedAt = &formatted
	}
	if pinned.Location != nil {
		resp.Location = &locationResponse{
			Lat: pinned.Location.Lat,
			Lng: pinned.Location.Lng,
		}
	}
	return resp
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一フォーマットのエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeStoryNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodePermissionDenied:
		return http.StatusForbidden
	case model.ErrCodeCapabilityUnavailable:
		return http.StatusNotImplemented
	case model.ErrCodeUpstreamUnreachable:
		return http.StatusBadGateway
	case model.ErrCodeSubscriptionSync:
		return http.StatusBadGateway
	case model.ErrCodeInstallFailed:
		return http.StatusBadGateway
	case model.ErrCodeStorageFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
