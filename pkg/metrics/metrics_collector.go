package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 退款指标
	refundTransitionsTotal *prometheus.CounterVec
	gatewayAttemptsTotal   *prometheus.CounterVec
	gatewayCallDuration    *prometheus.HistogramVec

	// 信用凭证指标
	creditNotesIssuedTotal  prometheus.Counter
	creditNoteConsumeTotal  *prometheus.CounterVec
	creditNotesExpiredTotal prometheus.Counter

	// 数据库指标
	dbConnectionsActive prometheus.Gauge
	dbConnectionsIdle   prometheus.Gauge
}

var (
	globalCollector *MetricsCollector
	collectorOnce   sync.Once
)

// GetGlobalCollector 获取全局指标收集器（懒加载单例）
func GetGlobalCollector() *MetricsCollector {
	collectorOnce.Do(func() {
		globalCollector = NewMetricsCollector()
	})
	return globalCollector
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		refundTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refund_transitions_total",
				Help: "Total number of refund state transitions",
			},
			[]string{"to_status", "method"},
		),

		gatewayAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refund_gateway_attempts_total",
				Help: "Total number of gateway refund attempts",
			},
			[]string{"gateway", "outcome"},
		),

		gatewayCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refund_gateway_call_duration_seconds",
				Help:    "Gateway refund call duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway"},
		),

		creditNotesIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_notes_issued_total",
				Help: "Total number of credit notes issued",
			},
		),

		creditNoteConsumeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_note_consume_total",
				Help: "Total number of credit note consumption attempts",
			},
			[]string{"outcome"},
		),

		creditNotesExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_notes_expired_total",
				Help: "Total number of credit notes expired by the sweep",
			},
		),

		dbConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),

		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (mc *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	mc.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRefundTransition 记录退款状态流转
func (mc *MetricsCollector) RecordRefundTransition(toStatus, method string) {
	mc.refundTransitionsTotal.WithLabelValues(toStatus, method).Inc()
}

// RecordGatewayAttempt 记录网关退款尝试
func (mc *MetricsCollector) RecordGatewayAttempt(gateway, outcome string, duration time.Duration) {
	mc.gatewayAttemptsTotal.WithLabelValues(gateway, outcome).Inc()
	mc.gatewayCallDuration.WithLabelValues(gateway).Observe(duration.Seconds())
}

// RecordCreditNoteIssued 记录信用凭证发放
func (mc *MetricsCollector) RecordCreditNoteIssued() {
	mc.creditNotesIssuedTotal.Inc()
}

// RecordCreditNoteConsume 记录信用凭证核销结果
func (mc *MetricsCollector) RecordCreditNoteConsume(outcome string) {
	mc.creditNoteConsumeTotal.WithLabelValues(outcome).Inc()
}

// RecordCreditNotesExpired 记录过期巡检结果
func (mc *MetricsCollector) RecordCreditNotesExpired(count int64) {
	mc.creditNotesExpiredTotal.Add(float64(count))
}

// SetDBConnections 更新数据库连接池指标
func (mc *MetricsCollector) SetDBConnections(active, idle int) {
	mc.dbConnectionsActive.Set(float64(active))
	mc.dbConnectionsIdle.Set(float64(idle))
}
