package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MigrationMetrics struct {
	migrations *prometheus.CounterVec
	duration   prometheus.Histogram
	fees       *prometheus.CounterVec
	feeRate    prometheus.Gauge
	legs       *prometheus.CounterVec
}

var (
	migrationOnce     sync.Once
	migrationRegistry *MigrationMetrics
)

func Migration() *MigrationMetrics {
	migrationOnce.Do(func() {
		migrationRegistry = &MigrationMetrics{
			migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmigrate",
				Name:      "migration_total",
				Help:      "Count of position migrations by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lendmigrate",
				Name:      "migration_duration_seconds",
				Help:      "Latency of position migrations including the flash-loan round trip.",
				Buckets:   prometheus.DefBuckets,
			}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmigrate",
				Name:      "migration_fee_total",
				Help:      "Platform fees charged per asset in base units.",
			}, []string{"asset"}),
			feeRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendmigrate",
				Name:      "migration_fee_rate_bps",
				Help:      "Configured platform fee rate in basis points.",
			}),
			legs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmigrate",
				Name:      "migration_legs_total",
				Help:      "Repay and borrow legs executed per interest rate mode.",
			}, []string{"phase", "mode"}),
		}
		prometheus.MustRegister(
			migrationRegistry.migrations,
			migrationRegistry.duration,
			migrationRegistry.fees,
			migrationRegistry.feeRate,
			migrationRegistry.legs,
		)
	})
	return migrationRegistry
}

// ObserveMigration records the outcome and latency of a migration attempt.
func (m *MigrationMetrics) ObserveMigration(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.migrations.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ObserveReverted counts a migration the engine executed but whose enclosing
// host transaction rolled back.
func (m *MigrationMetrics) ObserveReverted() {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues("reverted").Inc()
}

// ObserveFee adds a charged platform fee. Amounts beyond float precision are
// approximated.
func (m *MigrationMetrics) ObserveFee(asset string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.fees.WithLabelValues(asset).Add(amount)
}

func (m *MigrationMetrics) SetFeeRate(bps uint64) {
	if m == nil {
		return
	}
	m.feeRate.Set(float64(bps))
}

func (m *MigrationMetrics) ObserveLeg(phase, mode string) {
	if m == nil {
		return
	}
	m.legs.WithLabelValues(phase, mode).Inc()
}
