package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabasePath string

	// Upstream
	AppOrigin   string // 静的アセットのアップストリームオリジン
	StoryAPIURL string // ストーリーAPIのベースURL（例: "https://story-api.example.dev/v1"）

	// Push
	VAPIDPublicKey  string
	VAPIDPrivateKey string // テスト送信にのみ必要。未設定の場合はテスト送信が無効になる
	PublicURL       string // 自ゲートウェイの外部URL。プッシュ受信エンドポイントの生成に使用する
	PushSubscriber  string // VAPIDのsubクレームに使う連絡先メールアドレス

	// Notifications
	NotificationsEnabled bool // falseの場合、購読要求は許可拒否として扱われる

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Cache
	PrecacheURLs      []string      // マニフェスト走査結果に加えて必ずプリキャッシュするパス
	APICacheRetention time.Duration // network-firstキャッシュの保持期間
	RefreshInterval   time.Duration // マニフェスト再走査の間隔（workerモード）

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	if cfg.DatabasePath == "" {
		missing = append(missing, "DATABASE_PATH")
	}

	cfg.AppOrigin = os.Getenv("APP_ORIGIN")
	if cfg.AppOrigin == "" {
		missing = append(missing, "APP_ORIGIN")
	}

	cfg.StoryAPIURL = os.Getenv("STORY_API_URL")
	if cfg.StoryAPIURL == "" {
		missing = append(missing, "STORY_API_URL")
	}

	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	if cfg.VAPIDPublicKey == "" {
		missing = append(missing, "VAPID_PUBLIC_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	cfg.PushSubscriber = getEnvString("PUSH_SUBSCRIBER", "storygate@example.com")
	cfg.NotificationsEnabled = getEnvBool("NOTIFICATIONS_ENABLED", true)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.PublicURL = getEnvString("PUBLIC_URL", "http://localhost:"+cfg.ServerPort)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.PrecacheURLs = getEnvList("PRECACHE_URLS", []string{"/", "/manifest.json"})
	cfg.APICacheRetention = getEnvDuration("API_CACHE_RETENTION", 7*24*time.Hour)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 15*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// 末尾スラッシュは結合時の二重スラッシュの原因になるため除去する
	cfg.AppOrigin = strings.TrimRight(cfg.AppOrigin, "/")
	cfg.StoryAPIURL = strings.TrimRight(cfg.StoryAPIURL, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
