// Package story はストーリーAPIの型付きクライアントを提供する。
// レスポンスの欠損フィールドを既定値で補完し、ドメインモデルへ変換する。
package story

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/security"
)

// レスポンスの欠損フィールドに対する既定値
const (
	fallbackTitle       = "無題のストーリー"
	fallbackDescription = "説明なし"
	placeholderImageURL = "/images/placeholder.jpg"
)

// TokenSource は認証トークンの供給元。auth.Storeが実装する。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client はストーリーAPIのクライアント。
type Client struct {
	guard   security.FetchGuardService
	tokens  TokenSource
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはストーリーAPIの基点URL（末尾スラッシュなし）。
func NewClient(guard security.FetchGuardService, tokens TokenSource, logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		guard:   guard,
		tokens:  tokens,
		logger:  logger,
		baseURL: baseURL,
		timeout: timeout,
	}
}

// storyResponse はAPIレスポンス内のストーリーの生の形。
// lat/lonは数値以外が入ることがあるためjson.Numberではなくanyで受ける。
type storyResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PhotoURL    string `json:"photoUrl"`
	CreatedAt   string `json:"createdAt"`
	Lat         any    `json:"lat"`
	Lon         any    `json:"lon"`
}

type listResponse struct {
	Error     bool            `json:"error"`
	Message   string          `json:"message"`
	ListStory []storyResponse `json:"listStory"`
}

type detailResponse struct {
	Error   bool           `json:"error"`
	Message string         `json:"message"`
	Story   *storyResponse `json:"story"`
}

type loginResponse struct {
	Error       bool   `json:"error"`
	Message     string `json:"message"`
	LoginResult struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Token  string `json:"token"`
	} `json:"loginResult"`
}

// GetStories は全ストーリーの一覧を取得する。
func (c *Client) GetStories(ctx context.Context) ([]model.Story, error) {
	body, err := c.get(ctx, c.baseURL+"/stories")
	if err != nil {
		return nil, err
	}

	var result listResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	if result.ListStory == nil {
		return nil, fmt.Errorf("ストーリー一覧がレスポンスに含まれていません")
	}

	stories := make([]model.Story, 0, len(result.ListStory))
	for _, raw := range result.ListStory {
		stories = append(stories, *toStory(&raw))
	}
	return stories, nil
}

// GetStoryByID は指定IDのストーリーを取得する。
// 存在しない場合はSTORY_NOT_FOUNDエラーを返す。
func (c *Client) GetStoryByID(ctx context.Context, id string) (*model.Story, error) {
	if id == "" {
		return nil, fmt.Errorf("ストーリーIDが空です")
	}

	body, err := c.get(ctx, c.baseURL+"/stories/"+id)
	if err != nil {
		return nil, err
	}

	var result detailResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	if result.Story == nil {
		return nil, model.NewStoryNotFoundError(id)
	}

	return toStory(result.Story), nil
}

// Login は認証を行い、取得したトークンを返す。
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	body, err := c.post(ctx, c.baseURL+"/login", "application/json", bytes.NewReader(payload), false)
	if err != nil {
		return "", err
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	if result.LoginResult.Token == "" {
		return "", fmt.Errorf("レスポンスにトークンが含まれていません")
	}

	return result.LoginResult.Token, nil
}

// Register は新規ユーザーを登録する。
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	payload, err := json.Marshal(map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	_, err = c.post(ctx, c.baseURL+"/register", "application/json", bytes.NewReader(payload), false)
	return err
}

// AddStory は新しいストーリーをmultipart形式で投稿する。
// photoNameは添付ファイル名、photoは画像データ。locationはnil可。
func (c *Client) AddStory(ctx context.Context, description, photoName string, photo io.Reader, location *model.Location) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("description", description); err != nil {
		return fmt.Errorf("フォームの構築に失敗しました: %w", err)
	}
	part, err := writer.CreateFormFile("photo", photoName)
	if err != nil {
		return fmt.Errorf("フォームの構築に失敗しました: %w", err)
	}
	if _, err := io.Copy(part, photo); err != nil {
		return fmt.Errorf("画像データの書き込みに失敗しました: %w", err)
	}
	if location != nil {
		writer.WriteField("lat", strconv.FormatFloat(location.Lat, 'f', -1, 64))
		writer.WriteField("lon", strconv.FormatFloat(location.Lng, 'f', -1, 64))
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("フォームの構築に失敗しました: %w", err)
	}

	_, err = c.post(ctx, c.baseURL+"/stories", writer.FormDataContentType(), &buf, true)
	return err
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, "", nil, true)
}

func (c *Client) post(ctx context.Context, rawURL, contentType string, body io.Reader, authenticated bool) ([]byte, error) {
	return c.do(ctx, http.MethodPost, rawURL, contentType, body, authenticated)
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader, authenticated bool) ([]byte, error) {
	if err := c.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("URL検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if authenticated {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("認証トークンの取得に失敗しました: %w", err)
		}
		if token == "" {
			return nil, model.NewUnauthorizedError()
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.guard.ClientFor(rawURL, c.timeout)
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("ストーリーAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnreachableError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, model.NewUnauthorizedError()
		}
		c.logger.Error("ストーリーAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("ストーリーAPIがステータス %d を返しました", resp.StatusCode)
	}

	return respBody, nil
}

// toStory は生のレスポンスをドメインモデルへ変換する。
// 欠損フィールドは既定値で補完し、httpで始まらない画像URLは
// プレースホルダーに差し替える。lat/lonは両方が数値の場合のみ採用する。
func toStory(raw *storyResponse) *model.Story {
	story := &model.Story{
		ID:          raw.ID,
		Title:       raw.Name,
		Description: raw.Description,
		ImageURL:    raw.PhotoURL,
	}
	if story.Title == "" {
		story.Title = fallbackTitle
	}
	if story.Description == "" {
		story.Description = fallbackDescription
	}
	if !strings.HasPrefix(story.ImageURL, "http") {
		story.ImageURL = placeholderImageURL
	}

	if raw.CreatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, raw.CreatedAt); err == nil {
			story.CreatedAt = &parsed
		}
	}

	if lat, ok := asFloat(raw.Lat); ok {
		if lng, ok := asFloat(raw.Lon); ok {
			story.Location = &model.Location{Lat: lat, Lng: lng}
		}
	}

	return story
}

// asFloat はJSON由来の値が数値の場合だけfloat64として返す。
// 文字列や欠損は数値なしとして扱う。
func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
