package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// OptionsMetrics bundles collectors tracking escrow matching and settlement
// activity inside the options engine.
type OptionsMetrics struct {
	matches        *prometheus.CounterVec
	premiumVolume  *prometheus.CounterVec
	exercises      *prometheus.CounterVec
	exerciseVolume *prometheus.CounterVec
	borrows        prometheus.Counter
	repays         prometheus.Counter
	withdrawals    prometheus.Counter
}

var (
	optionsOnce     sync.Once
	optionsRegistry *OptionsMetrics
)

// Options returns the singleton metrics registry for the options engine.
func Options() *OptionsMetrics {
	optionsOnce.Do(func() {
		optionsRegistry = &OptionsMetrics{
			matches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "options_matches_total",
				Help: "Count of escrows matched segmented by channel.",
			}, []string{"channel"}),
			premiumVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "options_premium_volume",
				Help: "Cumulative premium paid in integer settlement units per channel.",
			}, []string{"channel"}),
			exercises: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "options_exercises_total",
				Help: "Count of exercise settlements segmented by mode.",
			}, []string{"mode"}),
			exerciseVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "options_exercise_volume",
				Help: "Cumulative exercise cost in integer settlement units per mode.",
			}, []string{"mode"}),
			borrows: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "options_borrows_total",
				Help: "Count of collateralised borrows drawn against escrowed positions.",
			}),
			repays: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "options_repays_total",
				Help: "Count of borrow repayments returning collateral to escrows.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "options_withdrawals_total",
				Help: "Count of vault withdrawals returning escrowed balances after expiry or failed auctions.",
			}),
		}
		prometheus.MustRegister(
			optionsRegistry.matches,
			optionsRegistry.premiumVolume,
			optionsRegistry.exercises,
			optionsRegistry.exerciseVolume,
			optionsRegistry.borrows,
			optionsRegistry.repays,
			optionsRegistry.withdrawals,
		)
	})
	return optionsRegistry
}

// RecordMatch increments the match counter for a channel and accumulates the
// premium paid. Channels should be stable strings such as "auction", "rfq",
// or "direct".
func (m *OptionsMetrics) RecordMatch(channel string, premium *big.Int) {
	if m == nil {
		return
	}
	label := labelChannel(channel)
	m.matches.WithLabelValues(label).Inc()
	if premium != nil && premium.Sign() > 0 {
		m.premiumVolume.WithLabelValues(label).Add(bigToFloat(premium))
	}
}

// RecordExercise tracks a completed exercise settlement and its cost.
func (m *OptionsMetrics) RecordExercise(mode string, cost *big.Int) {
	if m == nil {
		return
	}
	label := labelChannel(mode)
	m.exercises.WithLabelValues(label).Inc()
	if cost != nil && cost.Sign() > 0 {
		m.exerciseVolume.WithLabelValues(label).Add(bigToFloat(cost))
	}
}

// RecordBorrow increments the borrow counter.
func (m *OptionsMetrics) RecordBorrow() {
	if m == nil {
		return
	}
	m.borrows.Inc()
}

// RecordRepay increments the repayment counter.
func (m *OptionsMetrics) RecordRepay() {
	if m == nil {
		return
	}
	m.repays.Inc()
}

// RecordWithdrawal increments the vault withdrawal counter.
func (m *OptionsMetrics) RecordWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

func labelChannel(channel string) string {
	trimmed := strings.TrimSpace(channel)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
