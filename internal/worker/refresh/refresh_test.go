package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

// fakeBuilder はテスト用のManifestSource実装。
type fakeBuilder struct {
	manifest []string
	err      error
}

func (b *fakeBuilder) Build(ctx context.Context, extra []string) ([]string, error) {
	if b.err != nil {
		return nil, b.err
	}
	return append(append([]string{}, extra...), b.manifest...), nil
}

// fakeInstaller はテスト用のInstaller実装。
type fakeInstaller struct {
	installs int
	current  string
	err      error
}

func (i *fakeInstaller) InstallAndActivate(ctx context.Context, manifest []string) (string, error) {
	if i.err != nil {
		return "", i.err
	}
	i.installs++
	i.current = fmt.Sprintf("story-cache-%d", i.installs)
	return i.current, nil
}

func (i *fakeInstaller) CurrentGeneration() string {
	return i.current
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestScheduler_RunOnce_InstallsOnFirstRun(t *testing.T) {
	builder := &fakeBuilder{manifest: []string{"/app.js"}}
	installer := &fakeInstaller{}
	s := NewScheduler(builder, installer, testLogger(), []string{"/"})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("初回実行に失敗しました: %v", err)
	}
	if installer.installs != 1 {
		t.Errorf("初回は必ずインストールされるべきところ %d 回でした", installer.installs)
	}
}

func TestScheduler_RunOnce_SkipsWhenUnchanged(t *testing.T) {
	builder := &fakeBuilder{manifest: []string{"/app.js"}}
	installer := &fakeInstaller{}
	s := NewScheduler(builder, installer, testLogger(), []string{"/"})
	ctx := context.Background()

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("初回実行に失敗しました: %v", err)
	}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("2回目の実行に失敗しました: %v", err)
	}
	if installer.installs != 1 {
		t.Errorf("マニフェスト不変時は再インストールされないべきところ %d 回でした", installer.installs)
	}
}

func TestScheduler_RunOnce_ReinstallsOnManifestChange(t *testing.T) {
	builder := &fakeBuilder{manifest: []string{"/app.js"}}
	installer := &fakeInstaller{}
	s := NewScheduler(builder, installer, testLogger(), []string{"/"})
	ctx := context.Background()

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("初回実行に失敗しました: %v", err)
	}

	builder.manifest = []string{"/app.v2.js"}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("2回目の実行に失敗しました: %v", err)
	}
	if installer.installs != 2 {
		t.Errorf("マニフェスト変更時は再インストールされるべきところ %d 回でした", installer.installs)
	}
}

func TestScheduler_RunOnce_InstallFailureKeepsHash(t *testing.T) {
	builder := &fakeBuilder{manifest: []string{"/app.js"}}
	installer := &fakeInstaller{err: errors.New("install failed")}
	s := NewScheduler(builder, installer, testLogger(), []string{"/"})
	ctx := context.Background()

	if err := s.RunOnce(ctx); err == nil {
		t.Fatal("インストール失敗はエラーとして返されるべきです")
	}

	// 失敗後の再実行は再びインストールを試みる
	installer.err = nil
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("再実行に失敗しました: %v", err)
	}
	if installer.installs != 1 {
		t.Errorf("失敗後の再実行でインストールされるべきです: %d 回", installer.installs)
	}
}

func TestScheduler_RunOnce_BuildFailure(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("origin unreachable")}
	installer := &fakeInstaller{}
	s := NewScheduler(builder, installer, testLogger(), []string{"/"})

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("マニフェスト構築失敗はエラーとして返されるべきです")
	}
	if installer.installs != 0 {
		t.Error("構築失敗時はインストールされるべきではありません")
	}
}
