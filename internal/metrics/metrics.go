// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordTokenIssued(mallID string)
	RecordTokenRejected(reason string)
	RecordSessionCreated(viewerType string)
	RecordSessionReused(viewerType string)
	RecordSessionExtended()
	RecordResolveSuccess()
	RecordResolveFailure(reason string)
	RecordIntegrityViolation()
	RecordOtpIssued()
	RecordOtpVerified(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenIssued        *prometheus.CounterVec
	tokenRejected      *prometheus.CounterVec
	sessionCreated     *prometheus.CounterVec
	sessionReused      *prometheus.CounterVec
	sessionExtended    prometheus.Counter
	resolveSuccess     prometheus.Counter
	resolveFailure     *prometheus.CounterVec
	integrityViolation prometheus.Counter
	otpIssued          prometheus.Counter
	otpVerified        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_token_issued_total",
			Help: "発行された委任トークンの合計数（加盟店別）",
		}, []string{"mall_id"}),
		tokenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_token_rejected_total",
			Help: "発行を拒否された委任トークンの合計数（理由別）",
		}, []string{"reason"}),
		sessionCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_session_created_total",
			Help: "作成されたビューワーセッションの合計数（種別別）",
		}, []string{"viewer_type"}),
		sessionReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_session_reused_total",
			Help: "再利用されたビューワーセッションの合計数（種別別）",
		}, []string{"viewer_type"}),
		sessionExtended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaisho_session_extended_total",
			Help: "延長されたビューワーセッションの合計数",
		}),
		resolveSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaisho_resolve_success_total",
			Help: "開示解決成功の合計数",
		}),
		resolveFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_resolve_failure_total",
			Help: "開示解決失敗の合計数（理由別）",
		}, []string{"reason"}),
		integrityViolation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaisho_integrity_violation_total",
			Help: "プロファイル完全性検証失敗の合計数",
		}),
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaisho_otp_issued_total",
			Help: "発行された確認コードの合計数",
		}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisho_otp_verified_total",
			Help: "確認コード検証の合計数（結果別）",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.tokenIssued,
		c.tokenRejected,
		c.sessionCreated,
		c.sessionReused,
		c.sessionExtended,
		c.resolveSuccess,
		c.resolveFailure,
		c.integrityViolation,
		c.otpIssued,
		c.otpVerified,
	)

	return c
}

// RecordTokenIssued は委任トークン発行を記録する。
func (c *Collector) RecordTokenIssued(mallID string) {
	c.tokenIssued.WithLabelValues(mallID).Inc()
}

// RecordTokenRejected は委任トークン発行拒否を記録する。
func (c *Collector) RecordTokenRejected(reason string) {
	c.tokenRejected.WithLabelValues(reason).Inc()
}

// RecordSessionCreated はビューワーセッション作成を記録する。
func (c *Collector) RecordSessionCreated(viewerType string) {
	c.sessionCreated.WithLabelValues(viewerType).Inc()
}

// RecordSessionReused はビューワーセッション再利用を記録する。
func (c *Collector) RecordSessionReused(viewerType string) {
	c.sessionReused.WithLabelValues(viewerType).Inc()
}

// RecordSessionExtended はビューワーセッション延長を記録する。
func (c *Collector) RecordSessionExtended() {
	c.sessionExtended.Inc()
}

// RecordResolveSuccess は開示解決成功を記録する。
func (c *Collector) RecordResolveSuccess() {
	c.resolveSuccess.Inc()
}

// RecordResolveFailure は開示解決失敗を記録する。
func (c *Collector) RecordResolveFailure(reason string) {
	c.resolveFailure.WithLabelValues(reason).Inc()
}

// RecordIntegrityViolation は完全性検証失敗を記録する。
func (c *Collector) RecordIntegrityViolation() {
	c.integrityViolation.Inc()
}

// RecordOtpIssued は確認コード発行を記録する。
func (c *Collector) RecordOtpIssued() {
	c.otpIssued.Inc()
}

// RecordOtpVerified は確認コード検証を記録する。
// outcomeはsuccessまたは失敗時のエラーコード。
func (c *Collector) RecordOtpVerified(outcome string) {
	c.otpVerified.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
