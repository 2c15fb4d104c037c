// Package metrics holds the Prometheus instruments of the reading pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lsm"

// Ingestion results
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics groups every pipeline instrument
type Metrics struct {
	readingsIngested *prometheus.CounterVec
	broadcasts       prometheus.Counter
	deliveries       prometheus.Counter
	subscribers      prometheus.Gauge
	evictions        *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepDeleted     prometheus.Counter
	sweepFailures    prometheus.Counter
	relayForwarded   *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Readings submitted for ingestion by result",
		}, []string{"result"}),

		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Stored readings broadcast to subscribers",
		}),

		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Readings queued to individual subscribers",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently connected subscribers",
		}),

		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Subscribers removed by the hub",
		}, []string{"reason"}),

		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of retention sweeps",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Readings deleted by retention sweeps",
		}),

		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "sweep_failures_total",
			Help:      "Retention sweeps that failed",
		}),

		relayForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "MQTT messages handled by the relay by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.readingsIngested,
		m.broadcasts,
		m.deliveries,
		m.subscribers,
		m.evictions,
		m.sweepDuration,
		m.sweepDeleted,
		m.sweepFailures,
		m.relayForwarded,
	)

	return m
}

// IngestResult counts one ingestion attempt
func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.readingsIngested.WithLabelValues(result).Inc()
}

// Broadcast counts one broadcast and the subscribers it reached
func (m *Metrics) Broadcast(delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(delivered))
}

// Subscribers sets the connected subscriber gauge
func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// Evicted counts a subscriber removal
func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

// ObserveSweep records one sweep run
func (m *Metrics) ObserveSweep(d time.Duration, deleted int64, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

// RelayResult counts one relayed MQTT message
func (m *Metrics) RelayResult(result string) {
	if m == nil {
		return
	}
	m.relayForwarded.WithLabelValues(result).Inc()
}
