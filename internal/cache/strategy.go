package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/storygate/internal/model"
)

const (
	strategyCacheFirst   = "cache_first"
	strategyNetworkFirst = "network_first"
)

// ServeAsset はアプリのアセットに対するcache-first戦略。
// まず現行世代のキャッシュを検索し、ヒットすればネットワークを
// 使わずに応答する。ミス時はオリジンから取得し、応答を返した上で
// 現行世代に書き込む。ネットワーク到達不能時はナビゲーション要求なら
// キャッシュ済みのルートドキュメントにフォールバックし、
// それ以外はオフライン応答を返す。
func (m *Manager) ServeAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	generation := m.CurrentGeneration()
	key := m.cfg.AppOrigin + r.URL.RequestURI()

	if generation != "" {
		cached, err := m.repo.GetResponse(ctx, generation, key)
		if err != nil {
			m.logger.Error("キャッシュの検索に失敗しました",
				slog.String("key", key), slog.String("error", err.Error()))
		}
		if cached != nil {
			m.metrics.RecordCacheHit(strategyCacheFirst)
			writeCachedResponse(w, r, cached)
			return
		}
	}
	m.metrics.RecordCacheMiss(strategyCacheFirst)

	resp, body, err := m.fetchUpstream(ctx, http.MethodGet, key, nil, assetForwardHeaders(r))
	if err != nil {
		m.logger.Warn("オリジンへの到達に失敗しました",
			slog.String("url", key), slog.String("error", err.Error()))
		m.serveAssetFallback(w, r, generation)
		return
	}

	writeLiveResponse(w, resp, body, r.Method == http.MethodHead)

	if generation != "" && resp.StatusCode == http.StatusOK {
		m.storeResponse(ctx, generation, key, resp, body)
	}
}

// serveAssetFallback はオリジン到達不能時のフォールバック応答。
// ナビゲーション要求（text/htmlを受け付けるGET）はSPAのエントリポイント
// であるキャッシュ済みルートドキュメントを返す。
func (m *Manager) serveAssetFallback(w http.ResponseWriter, r *http.Request, generation string) {
	if generation != "" && isNavigation(r) {
		rootKey := m.cfg.AppOrigin + "/"
		cached, err := m.repo.GetResponse(r.Context(), generation, rootKey)
		if err != nil {
			m.logger.Error("ルートドキュメントの検索に失敗しました", slog.String("error", err.Error()))
		}
		if cached != nil {
			m.metrics.RecordCacheHit(strategyCacheFirst)
			writeCachedResponse(w, r, cached)
			return
		}
	}
	writeOfflineResponse(w)
}

// ServeAPI はストーリーAPIに対するnetwork-first戦略。
// まずアップストリームへプロキシし、成功したらGET応答を現行世代に
// 上書き保存する。ネットワーク到達不能時はGETに限りキャッシュ済みの
// 応答にフォールバックし、なければ502を返す。
func (m *Manager) ServeAPI(apiBase string, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	generation := m.CurrentGeneration()

	upstream := apiBase + strings.TrimPrefix(r.URL.Path, "/v1")
	if r.URL.RawQuery != "" {
		upstream += "?" + r.URL.RawQuery
	}
	key := upstream

	var reqBody io.Reader
	if r.Body != nil {
		reqBody = r.Body
	}

	resp, body, err := m.fetchUpstream(ctx, r.Method, upstream, reqBody, apiForwardHeaders(r))
	if err != nil {
		m.logger.Warn("アップストリームへの到達に失敗しました",
			slog.String("url", upstream), slog.String("error", err.Error()))

		if r.Method == http.MethodGet && generation != "" {
			cached, cacheErr := m.repo.GetResponse(ctx, generation, key)
			if cacheErr != nil {
				m.logger.Error("キャッシュの検索に失敗しました",
					slog.String("key", key), slog.String("error", cacheErr.Error()))
			}
			if cached != nil {
				m.metrics.RecordCacheHit(strategyNetworkFirst)
				writeCachedResponse(w, r, cached)
				return
			}
		}
		m.metrics.RecordCacheMiss(strategyNetworkFirst)
		writeUpstreamUnreachable(w, err)
		return
	}

	writeLiveResponse(w, resp, body, r.Method == http.MethodHead)

	if r.Method == http.MethodGet && generation != "" && resp.StatusCode == http.StatusOK {
		m.storeResponse(ctx, generation, key, resp, body)
	}
}

// fetchUpstream はSSRFガード経由でアップストリームに1回のHTTP要求を行う。
// レスポンスボディは上限付きで全読みして返す。
func (m *Manager) fetchUpstream(ctx context.Context, method, rawURL string, body io.Reader, headers http.Header) (*http.Response, []byte, error) {
	if err := m.guard.ValidateURL(rawURL); err != nil {
		return nil, nil, fmt.Errorf("URL検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	client := m.guard.ClientFor(rawURL, m.cfg.FetchTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	m.metrics.RecordFetchLatency(time.Since(start))
	m.metrics.RecordUpstreamStatus(resp.StatusCode)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.FetchMaxSize))
	if err != nil {
		return nil, nil, fmt.Errorf("ボディの読み取りに失敗しました: %w", err)
	}

	return resp, respBody, nil
}

// storeResponse はライブ応答を現行世代に書き込む。
// 書き込み失敗は応答の成否に影響させず、ログとメトリクスに記録する。
func (m *Manager) storeResponse(ctx context.Context, generation, key string, resp *http.Response, body []byte) {
	stored := &model.CachedResponse{
		Status:   resp.StatusCode,
		Headers:  storableHeaders(resp.Header),
		Body:     body,
		StoredAt: time.Now(),
	}
	if err := m.repo.PutResponse(ctx, generation, key, stored); err != nil {
		m.metrics.RecordCacheWriteFailure()
		m.logger.Error("キャッシュへの書き込みに失敗しました",
			"generation", generation, slog.String("key", key), slog.String("error", err.Error()))
	}
}

// assetForwardHeaders はアセット取得時にオリジンへ転送するヘッダー。
func assetForwardHeaders(r *http.Request) http.Header {
	h := http.Header{}
	if accept := r.Header.Get("Accept"); accept != "" {
		h.Set("Accept", accept)
	}
	return h
}

// apiForwardHeaders はAPIプロキシ時にアップストリームへ転送するヘッダー。
// 認証ヘッダーとコンテンツ系のヘッダーだけを通す。
func apiForwardHeaders(r *http.Request) http.Header {
	h := http.Header{}
	for _, key := range []string{"Authorization", "Content-Type", "Accept"} {
		if v := r.Header.Get(key); v != "" {
			h.Set(key, v)
		}
	}
	return h
}

// isNavigation はブラウザのページ遷移要求かどうかを判定する。
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeCachedResponse は格納済みの応答をそのまま再生する。
func writeCachedResponse(w http.ResponseWriter, r *http.Request, cached *model.CachedResponse) {
	for key, values := range cached.Headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(cached.Body)))
	w.WriteHeader(cached.Status)
	if r.Method != http.MethodHead {
		w.Write(cached.Body)
	}
}

// writeLiveResponse はアップストリームの応答をクライアントへ中継する。
func writeLiveResponse(w http.ResponseWriter, resp *http.Response, body []byte, headOnly bool) {
	for key, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	if !headOnly {
		w.Write(body)
	}
}

// writeOfflineResponse はオリジンにもキャッシュにも応答がない場合の合成応答。
func writeOfflineResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    "OFFLINE",
		"message": "オフラインのためコンテンツを取得できません",
	})
}

// writeUpstreamUnreachable はアップストリーム到達不能時のエラー応答。
func writeUpstreamUnreachable(w http.ResponseWriter, cause error) {
	apiErr := model.NewUpstreamUnreachableError(cause.Error())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(apiErr)
}
