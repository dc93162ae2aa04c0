package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 账本相关指标，独立 registry，测试之间互不干扰。
// nil *Metrics 上的方法都是空操作
type Metrics struct {
	registry        *prometheus.Registry
	transactions    *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	reconcile       *prometheus.CounterVec
	sipInstallments *prometheus.CounterVec
	executeDuration *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "按类型和状态统计的账本流水数",
		}, []string{"kind", "status"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "写入本地降级队列的交易数",
		}, []string{"kind"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "对账重放结果",
		}, []string{"outcome"}),
		sipInstallments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sip_installments_total",
			Help:      "定投扣款结果",
		}, []string{"outcome"}),
		executeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_duration_seconds",
			Help:      "单笔交易执行耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.transactions,
		m.degraded,
		m.reconcile,
		m.sipInstallments,
		m.executeDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransaction(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, status).Inc()
	m.executeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) IncDegraded(kind string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSipInstallment(outcome string) {
	if m == nil {
		return
	}
	m.sipInstallments.WithLabelValues(outcome).Inc()
}
