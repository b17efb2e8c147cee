package config

import (
	"reflect"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_PATH", "/var/lib/storygate/storygate.db")
	t.Setenv("APP_ORIGIN", "http://localhost:9000")
	t.Setenv("STORY_API_URL", "https://story-api.example.dev/v1")
	t.Setenv("VAPID_PUBLIC_KEY", "BCCs2eonMI-test-public-key")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.DatabasePath != "/var/lib/storygate/storygate.db" {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, "/var/lib/storygate/storygate.db")
	}
	if cfg.AppOrigin != "http://localhost:9000" {
		t.Errorf("AppOrigin = %q, want %q", cfg.AppOrigin, "http://localhost:9000")
	}
	if cfg.StoryAPIURL != "https://story-api.example.dev/v1" {
		t.Errorf("StoryAPIURL = %q, want %q", cfg.StoryAPIURL, "https://story-api.example.dev/v1")
	}
	if cfg.VAPIDPublicKey != "BCCs2eonMI-test-public-key" {
		t.Errorf("VAPIDPublicKey = %q, want %q", cfg.VAPIDPublicKey, "BCCs2eonMI-test-public-key")
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("APP_ORIGIN", "")
	t.Setenv("STORY_API_URL", "")
	t.Setenv("VAPID_PUBLIC_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須環境変数が未設定の場合はエラーを返すべき")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.PublicURL != "http://localhost:8080" {
		t.Errorf("PublicURL = %q, want %q", cfg.PublicURL, "http://localhost:8080")
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want %v", cfg.FetchTimeout, 10*time.Second)
	}
	if cfg.FetchMaxSize != 5242880 {
		t.Errorf("FetchMaxSize = %d, want %d", cfg.FetchMaxSize, 5242880)
	}
	if !reflect.DeepEqual(cfg.PrecacheURLs, []string{"/", "/manifest.json"}) {
		t.Errorf("PrecacheURLs = %v, want %v", cfg.PrecacheURLs, []string{"/", "/manifest.json"})
	}
	if cfg.APICacheRetention != 7*24*time.Hour {
		t.Errorf("APICacheRetention = %v, want %v", cfg.APICacheRetention, 7*24*time.Hour)
	}
	if cfg.RefreshInterval != 15*time.Minute {
		t.Errorf("RefreshInterval = %v, want %v", cfg.RefreshInterval, 15*time.Minute)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 120)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.CORSAllowedOrigin != "http://localhost:3000" {
		t.Errorf("CORSAllowedOrigin = %q, want %q", cfg.CORSAllowedOrigin, "http://localhost:3000")
	}
	if cfg.PushSubscriber != "storygate@example.com" {
		t.Errorf("PushSubscriber = %q, want %q", cfg.PushSubscriber, "storygate@example.com")
	}
	if !cfg.NotificationsEnabled {
		t.Error("NotificationsEnabled should default to true")
	}
}

func TestLoad_NotificationsDisabled(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("NOTIFICATIONS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.NotificationsEnabled {
		t.Error("NotificationsEnabled = true, want false")
	}
}

func TestLoad_InvalidBoolFallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("NOTIFICATIONS_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !cfg.NotificationsEnabled {
		t.Error("invalid bool should fall back to default true")
	}
}

func TestLoad_TrimsTrailingSlashes(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("APP_ORIGIN", "http://localhost:9000/")
	t.Setenv("STORY_API_URL", "https://story-api.example.dev/v1/")
	t.Setenv("PUBLIC_URL", "https://gateway.example.dev/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AppOrigin != "http://localhost:9000" {
		t.Errorf("AppOrigin = %q, 末尾スラッシュが除去されるべき", cfg.AppOrigin)
	}
	if cfg.StoryAPIURL != "https://story-api.example.dev/v1" {
		t.Errorf("StoryAPIURL = %q, 末尾スラッシュが除去されるべき", cfg.StoryAPIURL)
	}
	if cfg.PublicURL != "https://gateway.example.dev" {
		t.Errorf("PublicURL = %q, 末尾スラッシュが除去されるべき", cfg.PublicURL)
	}
}

func TestLoad_PrecacheURLsFromEnv(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("PRECACHE_URLS", "/, /app.js ,/styles.css,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []string{"/", "/app.js", "/styles.css"}
	if !reflect.DeepEqual(cfg.PrecacheURLs, want) {
		t.Errorf("PrecacheURLs = %v, want %v", cfg.PrecacheURLs, want)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, 不正値はデフォルトにフォールバックすべき", cfg.FetchTimeout)
	}
}
