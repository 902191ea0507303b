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
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordTokenIssued()
	RecordTokenFailure()
	RecordCheckoutSession(result string)
	RecordWebhookEvent(eventType, result string)
	RecordRoomSessionsSwept(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// 結果ラベルの値。
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultIgnored  = "ignored"
	ResultRejected = "rejected"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued     prometheus.Counter
	tokenFailures    prometheus.Counter
	checkoutSessions *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	sessionsSwept    prometheus.Counter
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remi_tokens_issued_total",
			Help: "発行したルームアクセストークンの合計数",
		}),
		tokenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remi_token_failures_total",
			Help: "ルームアクセストークン発行失敗の合計数",
		}),
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remi_checkout_sessions_total",
			Help: "Checkoutセッション作成の結果別件数",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remi_webhook_events_total",
			Help: "Webhookイベントの種別・結果別件数",
		}, []string{"type", "result"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remi_room_sessions_swept_total",
			Help: "期限切れで削除したルームセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remi_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokenFailures,
		c.checkoutSessions,
		c.webhookEvents,
		c.sessionsSwept,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordTokenIssued はトークン発行成功を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenFailure はトークン発行失敗を記録する。
func (c *Collector) RecordTokenFailure() {
	c.tokenFailures.Inc()
}

// RecordCheckoutSession はCheckoutセッション作成の結果を記録する。
func (c *Collector) RecordCheckoutSession(result string) {
	c.checkoutSessions.WithLabelValues(result).Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
// 署名検証前はイベント種別が不明なため、eventTypeに"unknown"を渡す。
func (c *Collector) RecordWebhookEvent(eventType, result string) {
	c.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordRoomSessionsSwept は削除したルームセッション数を記録する。
func (c *Collector) RecordRoomSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。メトリクス無効時とテストで使う。
type NopCollector struct{}

func (NopCollector) RecordTokenIssued()                 {}
func (NopCollector) RecordTokenFailure()                {}
func (NopCollector) RecordCheckoutSession(string)       {}
func (NopCollector) RecordWebhookEvent(string, string)  {}
func (NopCollector) RecordRoomSessionsSwept(int64)      {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
