package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics aggregates the compensation-engine series.
type EngineMetrics struct {
	contributionsTotal prometheus.Counter
	creditsTotal       *prometheus.CounterVec
	breakageTotal      prometheus.Counter
	poolBalance        *prometheus.GaugeVec
	poolDistributions  *prometheus.CounterVec
	withdrawalsTotal   prometheus.Counter
	payableTotal       prometheus.Counter
	membersTotal       prometheus.Gauge
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide engine metrics, registering them on first
// use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			contributionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "orphi_contributions_total",
				Help: "Count of contribution events applied.",
			}),
			creditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orphi_credits_minor_total",
				Help: "Credited minor units by bonus kind.",
			}, []string{"kind"}),
			breakageTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "orphi_breakage_minor_total",
				Help: "Minor units retained as designed breakage.",
			}),
			poolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "orphi_pool_balance_minor",
				Help: "Current pool balance in minor units.",
			}, []string{"pool"}),
			poolDistributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orphi_pool_distributions_total",
				Help: "Count of pool distribution cycles by pool.",
			}, []string{"pool"}),
			withdrawalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "orphi_withdrawals_total",
				Help: "Count of processed withdrawal requests.",
			}),
			payableTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "orphi_payable_minor_total",
				Help: "Minor units emitted to the external payout sink.",
			}),
			membersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "orphi_members_total",
				Help: "Registered member count.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.contributionsTotal,
			engineRegistry.creditsTotal,
			engineRegistry.breakageTotal,
			engineRegistry.poolBalance,
			engineRegistry.poolDistributions,
			engineRegistry.withdrawalsTotal,
			engineRegistry.payableTotal,
			engineRegistry.membersTotal,
		)
	})
	return engineRegistry
}

// ObserveContribution records one applied contribution.
func (m *EngineMetrics) ObserveContribution(credited map[string]*big.Int, breakage *big.Int) {
	if m == nil {
		return
	}
	m.contributionsTotal.Inc()
	for kind, amount := range credited {
		m.creditsTotal.WithLabelValues(kind).Add(float64(amount.Int64()))
	}
	if breakage != nil {
		m.breakageTotal.Add(float64(breakage.Int64()))
	}
}

// SetPoolBalance updates the balance gauge for a pool.
func (m *EngineMetrics) SetPoolBalance(pool string, balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	m.poolBalance.WithLabelValues(pool).Set(float64(balance.Int64()))
}

// ObserveDistribution records a completed distribution cycle.
func (m *EngineMetrics) ObserveDistribution(pool string) {
	if m == nil {
		return
	}
	m.poolDistributions.WithLabelValues(pool).Inc()
}

// ObserveWithdrawal records a processed withdrawal and its payable amount.
func (m *EngineMetrics) ObserveWithdrawal(payable *big.Int) {
	if m == nil {
		return
	}
	m.withdrawalsTotal.Inc()
	if payable != nil {
		m.payableTotal.Add(float64(payable.Int64()))
	}
}

// SetMembers updates the registered-member gauge.
func (m *EngineMetrics) SetMembers(count uint64) {
	if m == nil {
		return
	}
	m.membersTotal.Set(float64(count))
}
