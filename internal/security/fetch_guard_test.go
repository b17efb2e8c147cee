package security

import (
	"testing"
	"time"
)

func TestNewFetchGuard_ImplementsInterface(t *testing.T) {
	var _ FetchGuardService = (*fetchGuard)(nil)
}

func TestValidateURL_AllowsPublicHTTPS(t *testing.T) {
	g := NewFetchGuard()

	if err := g.ValidateURL("https://story-api.example.dev/v1/stories"); err != nil {
		t.Errorf("公開HTTPSのURLは許可されるべき: %v", err)
	}
}

func TestValidateURL_BlocksPrivateAndLoopback(t *testing.T) {
	g := NewFetchGuard()

	blocked := []string{
		"http://10.0.0.5/",
		"http://172.16.3.4/admin",
		"http://192.168.1.1/",
		"http://127.0.0.1:8080/",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost/",
	}
	for _, u := range blocked {
		if err := g.ValidateURL(u); err == nil {
			t.Errorf("%s はブロックされるべき", u)
		}
	}
}

func TestValidateURL_BlocksDisallowedScheme(t *testing.T) {
	g := NewFetchGuard()

	for _, u := range []string{"file:///etc/passwd", "ftp://example.com/", "gopher://example.com/"} {
		if err := g.ValidateURL(u); err == nil {
			t.Errorf("%s はスキーム検証でブロックされるべき", u)
		}
	}
}

func TestValidateURL_EmptyAndInvalid(t *testing.T) {
	g := NewFetchGuard()

	if err := g.ValidateURL(""); err == nil {
		t.Error("空URLはエラーを返すべき")
	}
	if err := g.ValidateURL("https://"); err == nil {
		t.Error("ホストなしURLはエラーを返すべき")
	}
}

func TestValidateURL_TrustedOriginBypassesBlocklist(t *testing.T) {
	// ローカル開発ではアップストリームがloopbackに存在する
	g := NewFetchGuard("http://localhost:9000", "http://127.0.0.1:3000/v1")

	if err := g.ValidateURL("http://localhost:9000/app.js"); err != nil {
		t.Errorf("信頼オリジン配下のURLは許可されるべき: %v", err)
	}
	if err := g.ValidateURL("http://127.0.0.1:3000/v1/stories"); err != nil {
		t.Errorf("信頼オリジン配下のURLは許可されるべき: %v", err)
	}

	// 信頼オリジンと異なるポートはブロックされたまま
	if err := g.ValidateURL("http://localhost:9999/"); err == nil {
		t.Error("信頼外のloopback URLはブロックされるべき")
	}
}

func TestClientFor_ReturnsClientForBothKinds(t *testing.T) {
	g := NewFetchGuard("http://localhost:9000")

	trusted := g.ClientFor("http://localhost:9000/app.js", 5*time.Second)
	if trusted == nil {
		t.Fatal("信頼オリジン向けクライアントがnil")
	}
	if trusted.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", trusted.Timeout, 5*time.Second)
	}

	external := g.ClientFor("https://push.example.dev/send/abc", 5*time.Second)
	if external == nil {
		t.Fatal("外部向けクライアントがnil")
	}
}
