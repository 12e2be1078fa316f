package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// eventMetrics tracks the lifecycle event feed: how many events of each
// type have been emitted and how far the feed sequence has advanced.
// The sequence gauge lets operators alert on consumers falling behind.
type eventMetrics struct {
	emitted *prometheus.CounterVec
	feedSeq prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the process-wide feed metrics, registering them on first use.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionchain",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of lifecycle events emitted on the feed segmented by type.",
			}, []string{"type"}),
			feedSeq: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "optionchain",
				Subsystem: "events",
				Name:      "feed_sequence",
				Help:      "Sequence number of the most recent event on the feed.",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.feedSeq)
	})
	return eventRegistry
}

// RecordEvent counts one emission of the given type and advances the
// sequence gauge. Blank types are bucketed as unknown rather than dropped.
func (m *eventMetrics) RecordEvent(eventType string, seq uint64) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
	m.feedSeq.Set(float64(seq))
}
