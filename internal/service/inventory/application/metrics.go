// internal/service/inventory/application/metrics.go
package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总预占服务的业务指标
type Metrics struct {
	ReservationsTotal       *prometheus.CounterVec
	SweepExpiredTotal       prometheus.Counter
	SweepFailedTotal        prometheus.Counter
	StockRestoreFailedTotal prometheus.Counter
	LockWaitSeconds         prometheus.Histogram
}

// NewMetrics 在给定的 Registerer 上注册指标。
// 生产代码传 prometheus.DefaultRegisterer，测试传独立的 Registry 避免重复注册。
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_reservations_total",
				Help: "Total number of reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		SweepExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_sweep_expired_total",
				Help: "Total number of reservations expired by the sweeper",
			},
		),
		SweepFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_sweep_failed_total",
				Help: "Total number of per-reservation sweep failures (retried next pass)",
			},
		),
		StockRestoreFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_stock_restore_failed_total",
				Help: "Reservations in a terminal state whose quantity could not be returned to the ledger (needs reconciliation)",
			},
		),
		LockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_lock_wait_seconds",
				Help:    "Time spent waiting for the per-product lock",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) observeLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.Observe(d.Seconds())
}

func (m *Metrics) countReservation(outcome string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) countSweepExpired() {
	if m == nil {
		return
	}
	m.SweepExpiredTotal.Inc()
}

func (m *Metrics) countSweepFailed() {
	if m == nil {
		return
	}
	m.SweepFailedTotal.Inc()
}

func (m *Metrics) countRestoreFailed() {
	if m == nil {
		return
	}
	m.StockRestoreFailedTotal.Inc()
}
