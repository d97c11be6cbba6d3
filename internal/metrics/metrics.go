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
// ディスパッチャー、状態プロジェクター、Mastodonクライアントから利用する。
type MetricsCollector interface {
	RecordDispatch(mode string, ok bool, duration time.Duration)
	RecordStaleResult()
	RecordUpstreamStatus(statusCode int)
	RecordPublishedItems(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	staleResults    prometheus.Counter
	upstreamStatus  *prometheus.CounterVec
	publishedItems  prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kabinka_dispatch_total",
			Help: "タイムライン取得リクエストの合計数（モード・結果別）",
		}, []string{"mode", "result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kabinka_dispatch_latency_seconds",
			Help:    "タイムライン取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kabinka_stale_results_total",
			Help: "新しいリクエストに追い越されて破棄された結果の合計数",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kabinka_upstream_http_status_total",
			Help: "MastodonサーバーのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		publishedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kabinka_published_items_total",
			Help: "Content状態として公開された投稿の合計数",
		}),
	}

	reg.MustRegister(
		c.dispatchTotal,
		c.dispatchLatency,
		c.staleResults,
		c.upstreamStatus,
		c.publishedItems,
	)

	return c
}

// RecordDispatch はタイムライン取得の結果とレイテンシを記録する。
func (c *Collector) RecordDispatch(mode string, ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.dispatchTotal.WithLabelValues(mode, result).Inc()
	c.dispatchLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStaleResult は破棄された古い結果を記録する。
func (c *Collector) RecordStaleResult() {
	c.staleResults.Inc()
}

// RecordUpstreamStatus はMastodonサーバーのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPublishedItems は公開された投稿数を記録する。
func (c *Collector) RecordPublishedItems(count int) {
	c.publishedItems.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
