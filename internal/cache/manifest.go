// Package cache はオフラインゲートウェイのキャッシュ層を提供する。
// 世代付きプリキャッシュのライフサイクル（インストール/アクティベーション/
// 旧世代の削除）と、cache-first / network-first の2つの応答戦略を含む。
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// FetchGuard は外向きフェッチのSSRF検証のインターフェース。
// security.FetchGuardServiceを抽象化してテスタビリティを向上させる。
type FetchGuard interface {
	ClientFor(rawURL string, timeout time.Duration) *http.Client
	ValidateURL(rawURL string) error
}

// ManifestBuilder はアプリのルートドキュメントを走査して
// プリキャッシュ対象のアセットURL一覧（マニフェスト）を構築する。
type ManifestBuilder struct {
	guard     FetchGuard
	appOrigin string
	timeout   time.Duration
	maxSize   int64
}

// NewManifestBuilder はManifestBuilderの新しいインスタンスを生成する。
func NewManifestBuilder(guard FetchGuard, appOrigin string, timeout time.Duration, maxSize int64) *ManifestBuilder {
	return &ManifestBuilder{
		guard:     guard,
		appOrigin: appOrigin,
		timeout:   timeout,
		maxSize:   maxSize,
	}
}

// Build はルートドキュメントを取得・解析し、プリキャッシュ対象のパス一覧を返す。
// extraには設定由来の固定エントリ（"/"など）を渡す。extraが先頭に置かれ、
// 走査で見つかった同一オリジンのアセットパスが続く。重複は除去される。
func (b *ManifestBuilder) Build(ctx context.Context, extra []string) ([]string, error) {
	rootURL := b.appOrigin + "/"
	if err := b.guard.ValidateURL(rootURL); err != nil {
		return nil, fmt.Errorf("ルートドキュメントのURL検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rootURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	client := b.guard.ClientFor(rootURL, b.timeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ルートドキュメントの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ルートドキュメントがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.maxSize))
	if err != nil {
		return nil, fmt.Errorf("ルートドキュメントの読み取りに失敗しました: %w", err)
	}

	manifest := make([]string, 0, len(extra))
	seen := make(map[string]bool)
	for _, path := range extra {
		if !seen[path] {
			seen[path] = true
			manifest = append(manifest, path)
		}
	}

	for _, path := range b.scanAssetPaths(body) {
		if !seen[path] {
			seen[path] = true
			manifest = append(manifest, path)
		}
	}

	return manifest, nil
}

// assetLinkRels はlink要素のうちプリキャッシュ対象とするrel属性値。
var assetLinkRels = map[string]bool{
	"stylesheet":       true,
	"icon":             true,
	"shortcut icon":    true,
	"apple-touch-icon": true,
	"manifest":         true,
	"preload":          true,
}

// scanAssetPaths はHTMLドキュメントからscript/link/imgのアセット参照を収集する。
// 同一オリジンのものだけをパスとして返す。相対URLはappOriginを基準に解決される。
func (b *ManifestBuilder) scanAssetPaths(htmlBody []byte) []string {
	var paths []string

	baseU, err := url.Parse(b.appOrigin + "/")
	if err != nil {
		return paths
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return paths

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if !hasAttr {
				continue
			}

			var src, href, rel string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "src":
					src = string(val)
				case "href":
					href = string(val)
				case "rel":
					rel = strings.ToLower(string(val))
				}
				if !more {
					break
				}
			}

			var ref string
			switch tagName {
			case "script", "img":
				ref = src
			case "link":
				if assetLinkRels[rel] {
					ref = href
				}
			}
			if ref == "" {
				continue
			}

			if path := b.resolveSameOriginPath(baseU, ref); path != "" {
				paths = append(paths, path)
			}
		}
	}
}

// resolveSameOriginPath は参照をbaseUを基準に解決し、
// 同一オリジンの場合にパス（クエリ付き）を返す。それ以外は空文字列。
func (b *ManifestBuilder) resolveSameOriginPath(baseU *url.URL, ref string) string {
	refU, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	resolved := baseU.ResolveReference(refU)
	if resolved.Scheme != baseU.Scheme || resolved.Host != baseU.Host {
		return ""
	}
	path := resolved.EscapedPath()
	if path == "" {
		path = "/"
	}
	if resolved.RawQuery != "" {
		path += "?" + resolved.RawQuery
	}
	return path
}

// Hash はマニフェストの内容ハッシュを返す。
// refreshワーカーがマニフェストの変化を検出し、新しい世代の
// インストールが必要かを判断するために使用する。
func Hash(manifest []string) string {
	sum := sha256.Sum256([]byte(strings.Join(manifest, "\n")))
	return hex.EncodeToString(sum[:])
}
