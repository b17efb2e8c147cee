// Package auth はストーリーサーバーの認証トークンを保持する。
package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/storygate/internal/repository"
)

// tokenKey はトークンを格納するストアのキー。
const tokenKey = "auth_token"

// Store は認証トークンの永続ストア。
// トークンはログイン時に保存され、プロセス再起動をまたいで保持される。
type Store struct {
	repo repository.TokenRepository
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(repo repository.TokenRepository) *Store {
	return &Store{repo: repo}
}

// SetToken はトークンを保存する。空のトークンはエラーとなる。
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("空のトークンは保存できません")
	}
	if err := s.repo.Set(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}
	return nil
}

// Token は保存済みのトークンを返す。未保存の場合は空文字列を返す。
func (s *Store) Token(ctx context.Context) (string, error) {
	token, err := s.repo.Get(ctx, tokenKey)
	if err != nil {
		return "", fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}
	return token, nil
}

// Clear は保存済みのトークンを破棄する。未保存でも成功する。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("トークンの削除に失敗しました: %w", err)
	}
	return nil
}

// IsAuthenticated はトークンが保存されているかを返す。
func (s *Store) IsAuthenticated(ctx context.Context) (bool, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}
