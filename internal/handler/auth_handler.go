package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/storygate/internal/model"
)

// AuthClientInterface は認証ハンドラーが必要とするリモートAPIクライアントの
// インターフェース。
type AuthClientInterface interface {
	// Login は認証を行い、取得したトークンを返す。
	Login(ctx context.Context, email, password string) (string, error)
	// Register は新規ユーザーを登録する。
	Register(ctx context.Context, name, email, password string) error
}

// TokenStoreInterface は認証ハンドラーが必要とするトークンストアの
// インターフェース。
type TokenStoreInterface interface {
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthHandler はログイン・登録・ログアウトのHTTPハンドラー。
// 取得したトークンはゲートウェイ内に保存され、ストーリーAPIクライアントと
// プッシュ購読クライアントが読み出す。
type AuthHandler struct {
	client AuthClientInterface
	tokens TokenStoreInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(client AuthClientInterface, tokens TokenStoreInterface) *AuthHandler {
	return &AuthHandler{client: client, tokens: tokens}
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerRequest は新規登録のリクエストボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はリモートAPIで認証し、トークンをゲートウェイに保存する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "メールアドレスとパスワードを指定してください。",
			Category: "validation",
			Action:   "リクエストの形式を確認してください。",
		})
		return
	}

	token, err := h.client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.tokens.SetToken(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"authenticated": true})
}

// Register は新規ユーザーを登録する。トークンは発行されないため、
// 登録後に改めてログインが必要になる。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "名前・メールアドレス・パスワードを指定してください。",
			Category: "validation",
			Action:   "リクエストの形式を確認してください。",
		})
		return
	}

	if err := h.client.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// Logout は保存済みトークンを破棄する。未ログインでも成功する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Clear(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status はログイン状態を返す。
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	authenticated, err := h.tokens.IsAuthenticated(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}
