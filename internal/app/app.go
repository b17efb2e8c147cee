package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/storygate/internal/auth"
	"github.com/hitoshi/storygate/internal/cache"
	"github.com/hitoshi/storygate/internal/config"
	"github.com/hitoshi/storygate/internal/database"
	"github.com/hitoshi/storygate/internal/handler"
	"github.com/hitoshi/storygate/internal/logger"
	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/middleware"
	"github.com/hitoshi/storygate/internal/notify"
	"github.com/hitoshi/storygate/internal/pin"
	"github.com/hitoshi/storygate/internal/push"
	"github.com/hitoshi/storygate/internal/repository"
	"github.com/hitoshi/storygate/internal/security"
	"github.com/hitoshi/storygate/internal/story"
	"github.com/hitoshi/storygate/internal/worker/cleanup"
	"github.com/hitoshi/storygate/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("app_origin", cfg.AppOrigin),
		slog.String("story_api_url", cfg.StoryAPIURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandInstall:
		return runInstall(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// gateway はDB接続とワイヤリング済みの主要コンポーネントをまとめた構造体。
// serve/worker/installの各モードが必要な部分を取り出して使う。
type gateway struct {
	db       *sql.DB
	registry *prometheus.Registry

	cacheRepo repository.CacheRepository
	manager   *cache.Manager
	builder   *cache.ManifestBuilder

	authStore   *auth.Store
	storyClient *story.Client
	pinService  *pin.Service

	coordinator *push.Coordinator
	platform    *push.LocalPlatform
	sender      *push.Sender
	presenter   *notify.Presenter
}

// buildGateway はDB接続を開き、全依存関係をワイヤリングする。
func buildGateway(cfg *config.Config) (*gateway, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	cacheRepo := repository.NewSQLiteCacheRepo(db)
	pinRepo := repository.NewSQLitePinRepo(db)
	subRepo := repository.NewSQLiteSubscriptionRepo(db)
	tokenRepo := repository.NewSQLiteTokenRepo(db)

	// 3. セキュリティサービスの初期化
	fetchGuard := security.NewFetchGuard(cfg.AppOrigin, cfg.StoryAPIURL, cfg.PublicURL)
	sanitizer := security.NewTextSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. キャッシュ層の初期化
	manager := cache.NewManager(cacheRepo, fetchGuard, collector, slog.Default(), cache.ManagerConfig{
		AppOrigin:    cfg.AppOrigin,
		FetchTimeout: cfg.FetchTimeout,
		FetchMaxSize: cfg.FetchMaxSize,
	})
	builder := cache.NewManifestBuilder(fetchGuard, cfg.AppOrigin, cfg.FetchTimeout, cfg.FetchMaxSize)

	// 6. ドメインサービスの初期化
	authStore := auth.NewStore(tokenRepo)
	storyClient := story.NewClient(fetchGuard, authStore, slog.Default(), cfg.StoryAPIURL, cfg.FetchTimeout)
	pinService := pin.NewService(pinRepo, storyClient, collector, slog.Default())

	// 7. プッシュ購読の初期化
	platform := push.NewLocalPlatform(subRepo, cfg.PublicURL, cfg.NotificationsEnabled)
	serverClient := push.NewServerClient(fetchGuard, authStore, slog.Default(), cfg.StoryAPIURL, cfg.FetchTimeout)
	coordinator := push.NewCoordinator(platform, serverClient, collector, slog.Default())
	sender := push.NewSender(slog.Default(), "mailto:"+cfg.PushSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)

	// 8. 通知表示の初期化
	inbox := notify.NewInbox(slog.Default())
	windows := notify.NewLogWindows(slog.Default())
	presenter := notify.NewPresenter(inbox, windows, sanitizer, slog.Default())

	return &gateway{
		db:          db,
		registry:    registry,
		cacheRepo:   cacheRepo,
		manager:     manager,
		builder:     builder,
		authStore:   authStore,
		storyClient: storyClient,
		pinService:  pinService,
		coordinator: coordinator,
		platform:    platform,
		sender:      sender,
		presenter:   presenter,
	}, nil
}

// runServe はゲートウェイサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.db.Close()

	// 前回起動時のキャッシュ世代を復元する
	if err := gw.manager.Resume(context.Background()); err != nil {
		return fmt.Errorf("failed to resume cache generation: %w", err)
	}

	// 世代が1つもない初回起動時はプリキャッシュをバックグラウンドで構築する。
	// オリジンに到達できなくてもゲートウェイ自体は起動する。
	if gw.manager.CurrentGeneration() == "" {
		go func() {
			manifest, err := gw.builder.Build(context.Background(), cfg.PrecacheURLs)
			if err != nil {
				slog.Warn("initial precache build failed", slog.String("error", err.Error()))
				return
			}
			generation, err := gw.manager.InstallAndActivate(context.Background(), manifest)
			if err != nil {
				slog.Warn("initial precache install failed", slog.String("error", err.Error()))
				return
			}
			slog.Info("initial precache installed", slog.String("generation", generation))
		}()
	}

	// ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Gatherer:          gw.registry,

		Cache:        gw.manager,
		StoryAPIBase: cfg.StoryAPIURL,

		PinService: gw.pinService,

		AuthClient: gw.storyClient,
		TokenStore: gw.authStore,

		PushCoordinator: gw.coordinator,
		KeyResolver:     gw.platform,
		Decrypt:         push.DecryptMessage,
		Presenter:       gw.presenter,
		Sender:          gw.sender,
		MaxBodySize:     cfg.FetchMaxSize,
	}

	router := handler.NewRouter(deps)

	// HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("gateway server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down gateway server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gateway server stopped gracefully")
	return nil
}

// rateLimiterConfig はRateLimitGeneral（req/min単位）をレート制限設定へ変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	limiterCfg.GeneralBurst = cfg.RateLimitGeneral
	return limiterCfg
}

// runWorker はワーカーモードで起動する。
// マニフェスト再走査スケジューラとAPIキャッシュのクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.db.Close()

	if err := gw.manager.Resume(context.Background()); err != nil {
		return fmt.Errorf("failed to resume cache generation: %w", err)
	}

	scheduler := refresh.NewScheduler(gw.builder, gw.manager, slog.Default(), cfg.PrecacheURLs)
	cleanupJob := cleanup.NewCleanupJob(gw.cacheRepo, slog.Default(), cfg.StoryAPIURL, cfg.APICacheRetention)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Duration("api_cache_retention", cfg.APICacheRetention),
	)

	// クリーンアップジョブをバックグラウンドで実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 再走査スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runInstall はプリキャッシュの構築と有効化を1回だけ実行して終了する。
// デプロイ直後にキャッシュを温めてからサーバーを起動する用途を想定している。
func runInstall(cfg *config.Config) error {
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.db.Close()

	ctx := context.Background()

	manifest, err := gw.builder.Build(ctx, cfg.PrecacheURLs)
	if err != nil {
		return fmt.Errorf("failed to build precache manifest: %w", err)
	}

	generation, err := gw.manager.InstallAndActivate(ctx, manifest)
	if err != nil {
		return fmt.Errorf("failed to install precache: %w", err)
	}

	slog.Info("precache installed",
		slog.String("generation", generation),
		slog.Int("entries", len(manifest)),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_path", cfg.DatabasePath),
	)

	if err := database.RunMigrations(cfg.DatabasePath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
