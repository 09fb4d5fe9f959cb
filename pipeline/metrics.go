package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Metrics records per-topic run counters, both as Prometheus collectors and as an
// in-process tally for the run summary.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	ItemsExtracted    *prometheus.CounterVec
	NewItems          prometheus.Counter
	NotificationsSent *prometheus.CounterVec

	mu       sync.Mutex
	outcomes map[string]int
	newItems int64
	sent     int64
	failed   int64
}

// NewMetrics creates the collectors and registers them on reg. reg may be nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_topic_runs_total",
				Help: "Topic runs by outcome.",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "watcher_topic_run_duration_seconds",
				Help:    "Wall time of a topic run from fetch to last notification.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ItemsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_items_extracted_total",
				Help: "Items extracted by strategy.",
			},
			[]string{"strategy"},
		),
		NewItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watcher_new_items_total",
				Help: "Items not present in the previous snapshot.",
			},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_notifications_total",
				Help: "Notification attempts by result.",
			},
			[]string{"result"},
		),
		outcomes: make(map[string]int),
	}
	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.RunDuration, m.ItemsExtracted, m.NewItems, m.NotificationsSent)
	}
	return m
}

func (m *Metrics) observeRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
}

func (m *Metrics) observeItems(strategy string, extracted, fresh int) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.ItemsExtracted.WithLabelValues(strategy).Add(float64(extracted))
	m.NewItems.Add(float64(fresh))
	m.mu.Lock()
	m.newItems += int64(fresh)
	m.mu.Unlock()
}

func (m *Metrics) observeNotification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.NotificationsSent.WithLabelValues(result).Inc()
	m.mu.Lock()
	if err != nil {
		m.failed++
	} else {
		m.sent++
	}
	m.mu.Unlock()
}

// Snapshot returns the counters accumulated since the process started.
func (m *Metrics) Snapshot() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	outcomes := make(map[string]int, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	return map[string]interface{}{
		"outcomes":             outcomes,
		"new_items":            m.newItems,
		"notifications_sent":   m.sent,
		"notifications_failed": m.failed,
	}
}
