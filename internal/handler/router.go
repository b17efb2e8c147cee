package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/storygate/internal/metrics"
	"github.com/hitoshi/storygate/internal/middleware"
)

// CacheGateway はキャッシュ戦略つきのプロキシ層のインターフェース。
// cache.Managerが実装する。
type CacheGateway interface {
	// ServeAsset はアプリのアセットをcache-firstで応答する。
	ServeAsset(w http.ResponseWriter, r *http.Request)
	// ServeAPI はストーリーAPIをnetwork-firstでプロキシする。
	ServeAPI(apiBase string, w http.ResponseWriter, r *http.Request)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス
	Gatherer prometheus.Gatherer

	// ゲートウェイ
	Cache        CacheGateway
	StoryAPIBase string

	// ピン留め
	PinService PinServiceInterface

	// 認証
	AuthClient AuthClientInterface
	TokenStore TokenStoreInterface

	// プッシュ
	PushCoordinator PushCoordinatorInterface
	KeyResolver     KeyResolver
	Decrypt         MessageDecrypter
	Presenter       PresenterInterface
	Sender          SenderInterface
	MaxBodySize     int64
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → RecoveryMiddleware → LoggingMiddleware
//
// レート制限は /api/* のグループにのみ適用する。アセットとAPIプロキシは
// 画面の描画経路にあたるため制限しない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	pinHandler := NewPinHandler(deps.PinService)
	authHandler := NewAuthHandler(deps.AuthClient, deps.TokenStore)
	pushHandler := NewPushHandler(deps.PushCoordinator, deps.KeyResolver, deps.Decrypt, deps.Presenter, deps.Sender, deps.Logger, deps.MaxBodySize)

	// --- 運用エンドポイント ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 管理API（レート制限あり） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())

		r.Route("/api/pins", func(r chi.Router) {
			r.Get("/", pinHandler.ListPins)
			r.Post("/{id}", pinHandler.PinStory)
			r.Put("/{id}", pinHandler.SavePin)
			r.Delete("/{id}", pinHandler.UnpinStory)
			r.Get("/{id}/saved", pinHandler.IsSaved)
		})

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.Post("/logout", authHandler.Logout)
			r.Get("/status", authHandler.Status)
		})

		r.Route("/api/push", func(r chi.Router) {
			r.Post("/subscribe", pushHandler.Subscribe)
			r.Post("/unsubscribe", pushHandler.Unsubscribe)
			r.Get("/status", pushHandler.Status)
			r.Post("/test", pushHandler.SendTest)
			r.Post("/click", pushHandler.Click)
		})
	})

	// --- プッシュ受信エンドポイント ---
	r.Post("/push/{subscriptionID}", pushHandler.Receive)

	// --- ストーリーAPIプロキシ（network-first、全メソッド） ---
	r.Handle("/v1/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deps.Cache.ServeAPI(deps.StoryAPIBase, w, r)
	}))

	// --- アセット配信（cache-first、GET/HEADのみ） ---
	r.Get("/*", deps.Cache.ServeAsset)
	r.Head("/*", deps.Cache.ServeAsset)

	return r
}
