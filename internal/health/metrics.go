package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hostlive collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	cycles       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	received     *prometheus.CounterVec
	failures     *prometheus.GaugeVec
	live         *prometheus.GaugeVec
	leader       *prometheus.GaugeVec
	degraded     *prometheus.GaugeVec
	takeovers    *prometheus.CounterVec
	storageRead  prometheus.Histogram
	storageWrite prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostlive_poll_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"channel", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostlive_poll_latency_seconds",
			Help:    "Subscribe request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10, 25, 30},
		}, []string{"channel"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostlive_events_received_total",
			Help: "Events received by origin (poll or fanout).",
		}, []string{"channel", "origin"}),
		failures: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostlive_consecutive_failures",
			Help: "Current failure streak.",
		}, []string{"channel", "instance"}),
		live: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostlive_channel_live",
			Help: "1 while the channel is live.",
		}, []string{"channel", "instance"}),
		leader: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostlive_channel_leader",
			Help: "1 while the instance leads the channel.",
		}, []string{"channel", "instance"}),
		degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostlive_channel_degraded",
			Help: "1 while leadership is held without the lease store.",
		}, []string{"channel", "instance"}),
		takeovers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostlive_lease_takeovers_total",
			Help: "Leadership taken over from a stale lease.",
		}, []string{"channel"}),
		storageRead: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostlive_storage_read_seconds",
			Help:    "Pebble point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		storageWrite: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostlive_storage_commit_seconds",
			Help:    "Pebble batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
	}
}

// ObserveRead implements the Pebble metrics hook.
func (m *Metrics) ObserveRead(elapsed time.Duration, _ int) {
	if m == nil {
		return
	}
	m.storageRead.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the Pebble metrics hook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int) {
	if m == nil {
		return
	}
	m.storageWrite.Observe(elapsed.Seconds())
}

func (m *Metrics) cycle(channel string, c Cycle) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(channel, c.Outcome).Inc()
	if c.Latency > 0 {
		m.latency.WithLabelValues(channel).Observe(c.Latency.Seconds())
	}
}

func (m *Metrics) delivered(channel string, origin Origin, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.received.WithLabelValues(channel, string(origin)).Add(float64(n))
}

func (m *Metrics) takeover(channel string) {
	if m == nil {
		return
	}
	m.takeovers.WithLabelValues(channel).Inc()
}

func (m *Metrics) snapshot(s Snapshot) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(s.Channel, s.Instance).Set(float64(s.ConsecutiveFailures))
	m.live.WithLabelValues(s.Channel, s.Instance).Set(boolGauge(s.IsLive))
	m.leader.WithLabelValues(s.Channel, s.Instance).Set(boolGauge(s.Role == "leader"))
	m.degraded.WithLabelValues(s.Channel, s.Instance).Set(boolGauge(s.Degraded))
}

func (m *Metrics) forget(channel, instance string) {
	if m == nil {
		return
	}
	for _, g := range []*prometheus.GaugeVec{m.failures, m.live, m.leader, m.degraded} {
		g.DeleteLabelValues(channel, instance)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
