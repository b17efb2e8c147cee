package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/storygate/internal/database"
	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/model"
	"github.com/hitoshi/storygate/internal/repository"
)

// openGuard は検証を常に通過させるテスト用のFetchGuard実装。
type openGuard struct{}

func (openGuard) ClientFor(rawURL string, timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (openGuard) ValidateURL(rawURL string) error { return nil }

func newTestRepo(t *testing.T) *repository.SQLiteCacheRepo {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache_test.db")
	if err := database.RunMigrations(path); err != nil {
		t.Fatalf("マイグレーションの実行に失敗しました: %v", err)
	}
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗しました: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return repository.NewSQLiteCacheRepo(db)
}

func newTestManager(t *testing.T, repo *repository.SQLiteCacheRepo, appOrigin string) *Manager {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewManager(repo, openGuard{}, collector, logger, ManagerConfig{
		AppOrigin:    appOrigin,
		FetchTimeout: 5 * time.Second,
		FetchMaxSize: 1 << 20,
	})
}

func TestManifestBuilder_Build(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<!DOCTYPE html>
<html>
<head>
  <link rel="stylesheet" href="/styles/main.css">
  <link rel="manifest" href="/manifest.json">
  <link rel="canonical" href="/should-not-appear">
  <script src="/app.bundle.js"></script>
  <script src="https://cdn.example.com/vendor.js"></script>
</head>
<body>
  <img src="images/logo.png">
</body>
</html>`)
	}))
	defer srv.Close()

	builder := NewManifestBuilder(openGuard{}, srv.URL, 5*time.Second, 1<<20)
	manifest, err := builder.Build(context.Background(), []string{"/", "/manifest.json"})
	if err != nil {
		t.Fatalf("マニフェストの構築に失敗しました: %v", err)
	}

	want := []string{"/", "/manifest.json", "/styles/main.css", "/app.bundle.js", "/images/logo.png"}
	if len(manifest) != len(want) {
		t.Fatalf("マニフェストのエントリ数が %d になるべきところ %d でした: %v", len(want), len(manifest), manifest)
	}
	for i, path := range want {
		if manifest[i] != path {
			t.Errorf("manifest[%d] が %q になるべきところ %q でした", i, path, manifest[i])
		}
	}
}

func TestManifestBuilder_Build_RootUnreachable(t *testing.T) {
	builder := NewManifestBuilder(openGuard{}, "http://127.0.0.1:1", time.Second, 1<<20)
	if _, err := builder.Build(context.Background(), []string{"/"}); err == nil {
		t.Error("到達不能なオリジンに対してエラーが返されるべきです")
	}
}

func TestHash_ChangesWithManifest(t *testing.T) {
	a := Hash([]string{"/", "/app.js"})
	b := Hash([]string{"/", "/app.v2.js"})
	if a == b {
		t.Error("異なるマニフェストは異なるハッシュを持つべきです")
	}
	if a != Hash([]string{"/", "/app.js"}) {
		t.Error("同一マニフェストのハッシュは安定しているべきです")
	}
}

func TestManager_InstallAndActivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "content of "+r.URL.Path)
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	generation, err := manager.InstallAndActivate(ctx, []string{"/", "/app.js"})
	if err != nil {
		t.Fatalf("インストールとアクティベーションに失敗しました: %v", err)
	}
	if !strings.HasPrefix(generation, "story-cache-") {
		t.Errorf("世代ラベルが story-cache- で始まるべきところ %q でした", generation)
	}
	if manager.State() != StateActive {
		t.Errorf("状態が %q になるべきところ %q でした", StateActive, manager.State())
	}

	cached, err := repo.GetResponse(ctx, generation, srv.URL+"/app.js")
	if err != nil {
		t.Fatalf("キャッシュの検索に失敗しました: %v", err)
	}
	if cached == nil {
		t.Fatal("プリキャッシュされた応答が見つかるべきです")
	}
	if string(cached.Body) != "content of /app.js" {
		t.Errorf("格納されたボディが一致しません: %q", string(cached.Body))
	}
}

func TestManager_Install_PartialFailureDiscardsGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	_, err := manager.Install(ctx, []string{"/", "/missing.js"})
	if err == nil {
		t.Fatal("一部のエントリが404の場合、インストールは失敗するべきです")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInstallFailed {
		t.Errorf("INSTALL_FAILEDエラーが返されるべきところ %v でした", err)
	}
	if manager.State() != StateUninitialized {
		t.Errorf("失敗後は元の状態に戻るべきところ %q でした", manager.State())
	}

	gens, err := repo.ListGenerations(ctx)
	if err != nil {
		t.Fatalf("世代一覧の取得に失敗しました: %v", err)
	}
	if len(gens) != 0 {
		t.Errorf("部分的な世代は削除されるべきところ %d 件残っていました", len(gens))
	}
}

func TestManager_Activate_DeletesOldGenerations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	first, err := manager.InstallAndActivate(ctx, []string{"/"})
	if err != nil {
		t.Fatalf("1回目のインストールに失敗しました: %v", err)
	}
	second, err := manager.InstallAndActivate(ctx, []string{"/"})
	if err != nil {
		t.Fatalf("2回目のインストールに失敗しました: %v", err)
	}

	gens, err := repo.ListGenerations(ctx)
	if err != nil {
		t.Fatalf("世代一覧の取得に失敗しました: %v", err)
	}
	if len(gens) != 1 {
		t.Fatalf("現行世代だけが残るべきところ %d 件でした", len(gens))
	}
	if gens[0].Name != second {
		t.Errorf("残った世代が %q になるべきところ %q でした", second, gens[0].Name)
	}
	if gens[0].Name == first {
		t.Error("旧世代が削除されていません")
	}
}

func TestManager_Resume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	ctx := context.Background()

	first := newTestManager(t, repo, srv.URL)
	generation, err := first.InstallAndActivate(ctx, []string{"/"})
	if err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}

	second := newTestManager(t, repo, srv.URL)
	if err := second.Resume(ctx); err != nil {
		t.Fatalf("復元に失敗しました: %v", err)
	}
	if second.State() != StateActive {
		t.Errorf("復元後の状態が %q になるべきところ %q でした", StateActive, second.State())
	}
	if second.CurrentGeneration() != generation {
		t.Errorf("復元された世代が %q になるべきところ %q でした", generation, second.CurrentGeneration())
	}
}

func TestServeAsset_CacheHitSkipsNetwork(t *testing.T) {
	var fetchCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount.Add(1)
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, "body { margin: 0 }")
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	if _, err := manager.InstallAndActivate(ctx, []string{"/main.css"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}
	installFetches := fetchCount.Load()

	req := httptest.NewRequest(http.MethodGet, "/main.css", nil)
	rec := httptest.NewRecorder()
	manager.ServeAsset(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスが200になるべきところ %d でした", rec.Code)
	}
	if rec.Body.String() != "body { margin: 0 }" {
		t.Errorf("キャッシュ済みボディが返されるべきところ %q でした", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/css" {
		t.Errorf("格納されたContent-Typeが再生されるべきところ %q でした", got)
	}
	if fetchCount.Load() != installFetches {
		t.Error("キャッシュヒット時にネットワークへアクセスするべきではありません")
	}
}

func TestServeAsset_MissFetchesOnceThenCaches(t *testing.T) {
	var fetchCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount.Add(1)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	if _, err := manager.InstallAndActivate(ctx, []string{"/"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}
	installFetches := fetchCount.Load()

	req := httptest.NewRequest(http.MethodGet, "/uncached.js", nil)
	rec := httptest.NewRecorder()
	manager.ServeAsset(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスが200になるべきところ %d でした", rec.Code)
	}
	if fetchCount.Load() != installFetches+1 {
		t.Errorf("ミス時はちょうど1回のフェッチが行われるべきです")
	}

	rec2 := httptest.NewRecorder()
	manager.ServeAsset(rec2, httptest.NewRequest(http.MethodGet, "/uncached.js", nil))
	if fetchCount.Load() != installFetches+1 {
		t.Error("2回目の要求はキャッシュから提供されるべきです")
	}
}

func TestServeAsset_NavigationFallbackToRoot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html>app shell</html>")
	}))

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	ctx := context.Background()

	if _, err := manager.InstallAndActivate(ctx, []string{"/"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}

	// オリジンを停止してオフライン状態を再現する
	srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/stories/detail", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	manager.ServeAsset(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ナビゲーション要求はルートドキュメントで応答するべきところ %d でした", rec.Code)
	}
	if rec.Body.String() != "<html>app shell</html>" {
		t.Errorf("ルートドキュメントのボディが返されるべきところ %q でした", rec.Body.String())
	}
}

func TestServeAsset_NonNavigationOfflineResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, srv.URL)
	if _, err := manager.InstallAndActivate(context.Background(), []string{"/"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}
	srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/data.json", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	manager.ServeAsset(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("オフライン応答は503になるべきところ %d でした", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OFFLINE") {
		t.Errorf("オフラインコードを含むボディが返されるべきところ %q でした", rec.Body.String())
	}
}

func TestServeAPI_NetworkFirstWithOfflineFallback(t *testing.T) {
	var fetchCount atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"listStory":[]}`)
	}))

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer app.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, app.URL)
	ctx := context.Background()

	if _, err := manager.InstallAndActivate(ctx, []string{"/"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}

	apiBase := api.URL + "/v1"

	req := httptest.NewRequest(http.MethodGet, "/v1/stories", nil)
	rec := httptest.NewRecorder()
	manager.ServeAPI(apiBase, rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスが200になるべきところ %d でした", rec.Code)
	}
	if fetchCount.Load() != 1 {
		t.Fatalf("network-firstはまずアップストリームへアクセスするべきです")
	}

	// アップストリームを停止してもGETはキャッシュから提供される
	api.Close()

	rec2 := httptest.NewRecorder()
	manager.ServeAPI(apiBase, rec2, httptest.NewRequest(http.MethodGet, "/v1/stories", nil))
	if rec2.Code != http.StatusOK {
		t.Errorf("到達不能時はキャッシュ済み応答が返されるべきところ %d でした", rec2.Code)
	}
	if rec2.Body.String() != `{"listStory":[]}` {
		t.Errorf("キャッシュ済みボディが返されるべきところ %q でした", rec2.Body.String())
	}

	// キャッシュのないGETは502
	rec3 := httptest.NewRecorder()
	manager.ServeAPI(apiBase, rec3, httptest.NewRequest(http.MethodGet, "/v1/stories/xyz", nil))
	if rec3.Code != http.StatusBadGateway {
		t.Errorf("キャッシュのない到達不能応答は502になるべきところ %d でした", rec3.Code)
	}
	if !strings.Contains(rec3.Body.String(), "UPSTREAM_UNREACHABLE") {
		t.Errorf("UPSTREAM_UNREACHABLEコードを含むボディが返されるべきです: %q", rec3.Body.String())
	}
}

func TestServeAPI_PostNeverServedFromCache(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":false}`)
	}))

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer app.Close()

	repo := newTestRepo(t)
	manager := newTestManager(t, repo, app.URL)
	if _, err := manager.InstallAndActivate(context.Background(), []string{"/"}); err != nil {
		t.Fatalf("インストールに失敗しました: %v", err)
	}

	apiBase := api.URL + "/v1"
	api.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	manager.ServeAPI(apiBase, rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("到達不能時のPOSTは502になるべきところ %d でした", rec.Code)
	}
}
