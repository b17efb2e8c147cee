package database

import (
	"path/filepath"
	"testing"
)

func TestOpen_EmptyPath_ReturnsError(t *testing.T) {
	_, err := Open("")
	if err == nil {
		t.Fatal("空のパスに対してエラーを返すべき")
	}
}

func TestOpen_CreatesAndPingsDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storygate.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open がエラーを返した: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping がエラーを返した: %v", err)
	}
}

func TestRunMigrations_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storygate.db")

	if err := RunMigrations(path); err != nil {
		t.Fatalf("RunMigrations がエラーを返した: %v", err)
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open がエラーを返した: %v", err)
	}
	defer db.Close()

	tables := []string{
		"cache_generations",
		"cached_responses",
		"pinned_stories",
		"push_subscriptions",
		"auth_tokens",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("テーブル %s が作成されていない: %v", table, err)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storygate.db")

	if err := RunMigrations(path); err != nil {
		t.Fatalf("1回目のRunMigrations がエラーを返した: %v", err)
	}
	if err := RunMigrations(path); err != nil {
		t.Fatalf("2回目のRunMigrations がエラーを返した（冪等であるべき）: %v", err)
	}
}
