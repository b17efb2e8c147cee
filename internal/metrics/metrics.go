// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キャッシュマネージャやプッシュコーディネータから利用する。
type MetricsCollector interface {
	RecordCacheHit(strategy string)
	RecordCacheMiss(strategy string)
	RecordCacheWriteFailure()
	RecordUpstreamStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordPushEvent(event string)
	SetPinnedStories(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit          *prometheus.CounterVec
	cacheMiss         *prometheus.CounterVec
	cacheWriteFail    prometheus.Counter
	upstreamStatus    *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	pushEvents        *prometheus.CounterVec
	pinnedStories     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storygate_cache_hit_total",
			Help: "キャッシュヒットの合計数（戦略別）",
		}, []string{"strategy"}),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storygate_cache_miss_total",
			Help: "キャッシュミスの合計数（戦略別）",
		}, []string{"strategy"}),
		cacheWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storygate_cache_write_fail_total",
			Help: "キャッシュ書き込み失敗の合計数",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storygate_upstream_status_total",
			Help: "アップストリームのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storygate_fetch_latency_seconds",
			Help:    "アップストリームフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storygate_push_events_total",
			Help: "プッシュ購読操作と受信の合計数（種別別）",
		}, []string{"event"}),
		pinnedStories: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storygate_pinned_stories",
			Help: "現在ピン留めされているストーリー数",
		}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.cacheWriteFail,
		c.upstreamStatus,
		c.fetchLatency,
		c.pushEvents,
		c.pinnedStories,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。strategyは "cache_first" か "network_first"。
func (c *Collector) RecordCacheHit(strategy string) {
	c.cacheHit.WithLabelValues(strategy).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(strategy string) {
	c.cacheMiss.WithLabelValues(strategy).Inc()
}

// RecordCacheWriteFailure はキャッシュ書き込み失敗を記録する。
// 書き込み失敗はレスポンス返却を妨げないため、メトリクスとログのみに現れる。
func (c *Collector) RecordCacheWriteFailure() {
	c.cacheWriteFail.Inc()
}

// RecordUpstreamStatus はアップストリームのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordPushEvent はプッシュ関連イベントを記録する。
// eventは "subscribe" / "unsubscribe" / "receive" / "display_fallback" など。
func (c *Collector) RecordPushEvent(event string) {
	c.pushEvents.WithLabelValues(event).Inc()
}

// SetPinnedStories は現在のピン留めストーリー数を設定する。
func (c *Collector) SetPinnedStories(count int) {
	c.pinnedStories.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
