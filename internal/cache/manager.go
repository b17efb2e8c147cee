package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/repository"
)

// State はキャッシュ層のライフサイクル状態。
type State string

const (
	// StateUninitialized は有効な世代が存在しない初期状態。
	StateUninitialized State = "uninitialized"
	// StateInstalling は新しい世代のプリキャッシュ実行中。
	StateInstalling State = "installing"
	// StateActive は現行世代がリクエストに応答可能な状態。
	StateActive State = "active"
)

// generationPrefix は世代ラベルの接頭辞。世代名は
// このUUID付きラベルで一意に識別される。
const generationPrefix = "story-cache-"

// ManagerConfig はManagerの動作設定。
type ManagerConfig struct {
	AppOrigin    string
	FetchTimeout time.Duration
	FetchMaxSize int64
}

// Manager はキャッシュ世代のライフサイクルを管理する。
// インストールはall-or-nothing: マニフェストの1件でも取得に失敗したら
// 世代全体を破棄する。アクティベーションは現行世代を切り替えた後、
// 旧世代をすべて削除する。
type Manager struct {
	repo    repository.CacheRepository
	guard   FetchGuard
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	cfg     ManagerConfig

	mu      sync.RWMutex
	state   State
	current string
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(repo repository.CacheRepository, guard FetchGuard, collector metrics.MetricsCollector, logger *slog.Logger, cfg ManagerConfig) *Manager {
	return &Manager{
		repo:    repo,
		guard:   guard,
		metrics: collector,
		logger:  logger,
		cfg:     cfg,
		state:   StateUninitialized,
	}
}

// State は現在のライフサイクル状態を返す。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentGeneration は現行世代のラベルを返す。未アクティブなら空文字列。
func (m *Manager) CurrentGeneration() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Resume は起動時にストアから現行世代を復元する。
// 現行世代が存在すればActiveに遷移し、プリキャッシュ済みの応答を
// 再インストールなしで提供できるようにする。
func (m *Manager) Resume(ctx context.Context) error {
	gen, err := m.repo.CurrentGeneration(ctx)
	if err != nil {
		return fmt.Errorf("現行世代の取得に失敗しました: %w", err)
	}
	if gen == nil {
		m.logger.Info("現行世代が存在しないため未初期化状態で起動します")
		return nil
	}

	m.mu.Lock()
	m.state = StateActive
	m.current = gen.Name
	m.mu.Unlock()

	m.logger.Info("現行世代を復元しました", slog.String("generation", gen.Name))
	return nil
}

// Install はマニフェストの全エントリを取得して新しい世代に格納する。
// 1件でも取得または格納に失敗した場合、部分的な世代を削除して
// エラーを返す。成功すると新しい世代のラベルを返すが、
// アクティベーションは行わない。
func (m *Manager) Install(ctx context.Context, manifest []string) (string, error) {
	if len(manifest) == 0 {
		return "", fmt.Errorf("マニフェストが空のためインストールできません")
	}

	m.mu.Lock()
	prev := m.state
	m.state = StateInstalling
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
	}

	generation := generationPrefix + uuid.NewString()

	if err := m.repo.CreateGeneration(ctx, generation); err != nil {
		restore()
		return "", fmt.Errorf("世代の作成に失敗しました: %w", err)
	}

	m.logger.Info("プリキャッシュを開始します",
		slog.String("generation", generation),
		slog.Int("entries", len(manifest)))

	for _, entry := range manifest {
		if err := m.precacheEntry(ctx, generation, entry); err != nil {
			m.discardGeneration(ctx, generation)
			restore()
			return "", model.NewInstallFailedError(entry, err.Error())
		}
	}

	m.logger.Info("プリキャッシュが完了しました", slog.String("generation", generation))
	return generation, nil
}

// precacheEntry はマニフェストの1エントリを取得して世代に格納する。
func (m *Manager) precacheEntry(ctx context.Context, generation, entry string) error {
	assetURL := m.cfg.AppOrigin + entry

	if err := m.guard.ValidateURL(assetURL); err != nil {
		return fmt.Errorf("URL検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	start := time.Now()
	client := m.guard.ClientFor(assetURL, m.cfg.FetchTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	m.metrics.RecordFetchLatency(time.Since(start))
	m.metrics.RecordUpstreamStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ステータス %d が返されました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.FetchMaxSize))
	if err != nil {
		return fmt.Errorf("ボディの読み取りに失敗しました: %w", err)
	}

	stored := &model.CachedResponse{
		Status:   resp.StatusCode,
		Headers:  storableHeaders(resp.Header),
		Body:     body,
		StoredAt: time.Now(),
	}
	if err := m.repo.PutResponse(ctx, generation, assetURL, stored); err != nil {
		return fmt.Errorf("格納に失敗しました: %w", err)
	}

	return nil
}

// discardGeneration は失敗した部分的な世代を削除する。
// 削除自体の失敗はログに残すのみで、インストール失敗の原因を隠さない。
func (m *Manager) discardGeneration(ctx context.Context, generation string) {
	if err := m.repo.DeleteGeneration(ctx, generation); err != nil {
		m.logger.Error("失敗した世代の削除に失敗しました",
			slog.String("generation", generation),
			slog.String("error", err.Error()))
	}
}

// Activate は指定された世代を現行に切り替え、その後に旧世代をすべて削除する。
// 切り替え自体の失敗はエラーとして返すが、旧世代の削除失敗は
// ログに残すのみで成功扱いとする。現行世代が削除されることはない。
func (m *Manager) Activate(ctx context.Context, generation string) error {
	if err := m.repo.ActivateGeneration(ctx, generation); err != nil {
		return fmt.Errorf("世代のアクティベーションに失敗しました: %w", err)
	}

	m.mu.Lock()
	m.state = StateActive
	m.current = generation
	m.mu.Unlock()

	gens, err := m.repo.ListGenerations(ctx)
	if err != nil {
		m.logger.Error("世代一覧の取得に失敗しました", slog.String("error", err.Error()))
		return nil
	}
	for _, g := range gens {
		if g.Name == generation {
			continue
		}
		if err := m.repo.DeleteGeneration(ctx, g.Name); err != nil {
			m.logger.Error("旧世代の削除に失敗しました",
				slog.String("generation", g.Name),
				slog.String("error", err.Error()))
		} else {
			m.logger.Info("旧世代を削除しました", slog.String("generation", g.Name))
		}
	}

	m.logger.Info("世代をアクティベーションしました", slog.String("generation", generation))
	return nil
}

// InstallAndActivate はインストールとアクティベーションを連続して実行する。
func (m *Manager) InstallAndActivate(ctx context.Context, manifest []string) (string, error) {
	generation, err := m.Install(ctx, manifest)
	if err != nil {
		return "", err
	}
	if err := m.Activate(ctx, generation); err != nil {
		return "", err
	}
	return generation, nil
}

// hopByHopHeaders は格納・再生時に除外するホップバイホップヘッダー。
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// storableHeaders はレスポンスヘッダーから格納対象だけを抽出する。
func storableHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for key, values := range h {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		out[key] = values
	}
	return out
}
