// Package observability exposes process metrics and an optional HTTP
// endpoint for scraping them.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Challenge outcomes.
const (
	ChallengeIssued        = "issued"
	ChallengeConfirmed     = "confirmed"
	ChallengeTimedOut      = "evicted_timeout"
	ChallengeUndeliverable = "evicted_undeliverable"
	ChallengeStale         = "stale"
	ChallengeMismatch      = "mismatch"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver, so
// components can run without instrumentation in tests.
type Metrics struct {
	reg *prometheus.Registry

	challenges    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	subscribers   prometheus.Gauge
	pending       prometheus.Gauge
	lastBroadcast prometheus.Gauge

	trackOnce sync.Once
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wisdombot",
			Name:      "challenges_total",
			Help:      "Admission challenges by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wisdombot",
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast delivery attempts by result.",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wisdombot",
			Name:      "subscribers",
			Help:      "Subscriber set size after the last write.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wisdombot",
			Name:      "pending_challenges",
			Help:      "Pending challenge table size after the last write.",
		}),
		lastBroadcast: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wisdombot",
			Name:      "last_broadcast_timestamp_seconds",
			Help:      "Unix time of the last finished broadcast cycle.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.challenges, m.deliveries, m.subscribers, m.pending, m.lastBroadcast,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Challenge(outcome string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) BroadcastDone(at time.Time) {
	if m == nil {
		return
	}
	m.lastBroadcast.Set(float64(at.Unix()))
}

// TrackGoroutines exports the supervised goroutine count reported by fn.
// Only the first call registers.
func (m *Metrics) TrackGoroutines(fn func() int64) {
	if m == nil || fn == nil {
		return
	}
	m.trackOnce.Do(func() {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wisdombot",
			Name:      "supervised_goroutines",
			Help:      "Goroutines currently running under the app supervisor.",
		}, func() float64 { return float64(fn()) }))
	})
}
