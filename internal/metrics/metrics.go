// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ImportRecorder はブログ取り込みワーカーが利用するメトリクス記録のインターフェース。
type ImportRecorder interface {
	RecordImportSuccess(sourceID int64)
	RecordImportFailure(sourceID int64, reason string)
	RecordParseFailure(sourceID int64)
	RecordFetchLatency(duration time.Duration)
	RecordPostsUpserted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus     *prometheus.CounterVec
	authRejections *prometheus.CounterVec
	logins         *prometheus.CounterVec
	importResults  *prometheus.CounterVec
	parseFail      prometheus.Counter
	fetchLatency   prometheus.Histogram
	postsUpserted  prometheus.Counter
	ttsCalls       *prometheus.CounterVec
	archived       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitclub_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitclub_auth_rejections_total",
			Help: "認証・認可で拒否されたリクエスト数（エラーコード別）",
		}, []string{"code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitclub_logins_total",
			Help: "ログイン成功数（プロバイダ別）",
		}, []string{"provider"}),
		importResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitclub_blog_import_total",
			Help: "ブログ取り込みの結果別件数",
		}, []string{"result"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitclub_blog_import_parse_fail_total",
			Help: "ブログフィードのパース失敗数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitclub_blog_import_fetch_seconds",
			Help:    "ブログフィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitclub_blog_posts_upserted_total",
			Help: "取り込みでアップサートされた記事数",
		}),
		ttsCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitclub_tts_calls_total",
			Help: "音声合成APIの呼び出し数（結果別）",
		}, []string{"result"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitclub_announcements_archived_total",
			Help: "期限切れにより非公開化されたお知らせ数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.authRejections,
		c.logins,
		c.importResults,
		c.parseFail,
		c.fetchLatency,
		c.postsUpserted,
		c.ttsCalls,
		c.archived,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAuthRejection は認証・認可の拒否をエラーコード別に記録する。
func (c *Collector) RecordAuthRejection(code string) {
	c.authRejections.WithLabelValues(code).Inc()
}

// RecordLogin はログイン成功をプロバイダ別に記録する。
func (c *Collector) RecordLogin(provider string) {
	c.logins.WithLabelValues(provider).Inc()
}

// RecordImportSuccess は取り込み成功を記録する。
// ソースIDはカーディナリティを抑えるためラベルにしない。
func (c *Collector) RecordImportSuccess(sourceID int64) {
	c.importResults.WithLabelValues("success").Inc()
}

// RecordImportFailure は取り込み失敗を記録する。
func (c *Collector) RecordImportFailure(sourceID int64, reason string) {
	c.importResults.WithLabelValues("failure").Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(sourceID int64) {
	c.parseFail.Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordPostsUpserted はアップサートされた記事数を記録する。
func (c *Collector) RecordPostsUpserted(count int) {
	c.postsUpserted.Add(float64(count))
}

// RecordTTSCall は音声合成APIの呼び出し結果を記録する。
func (c *Collector) RecordTTSCall(result string) {
	c.ttsCalls.WithLabelValues(result).Inc()
}

// RecordAnnouncementsArchived は非公開化したお知らせ数を記録する。
func (c *Collector) RecordAnnouncementsArchived(count int64) {
	c.archived.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
