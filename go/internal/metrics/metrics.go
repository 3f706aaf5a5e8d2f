// Package metrics exposes Prometheus instrumentation for bidding, fan-out
// and time sync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is what the rest of the service records against.
type Collector interface {
	RecordBid(outcome string, duration time.Duration)
	RecordPostCommitFailure(stage string)
	RecordDelivery(result string)
	SetConnections(n int)
	SetSubscriptions(n int)
	RecordTimeSyncPush(recipients int)
	RecordRelayMessage(relay string, success bool)
}

// NoOp discards everything. Used in tests and when metrics are disabled.
type NoOp struct{}

func (NoOp) RecordBid(string, time.Duration) {}
func (NoOp) RecordPostCommitFailure(string)  {}
func (NoOp) RecordDelivery(string)           {}
func (NoOp) SetConnections(int)              {}
func (NoOp) SetSubscriptions(int)            {}
func (NoOp) RecordTimeSyncPush(int)          {}
func (NoOp) RecordRelayMessage(string, bool) {}

// Prometheus implements Collector with registered collectors.
type Prometheus struct {
	bidsTotal          *prometheus.CounterVec
	bidLatency         prometheus.Histogram
	postCommitFailures *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	connections        prometheus.Gauge
	subscriptions      prometheus.Gauge
	timeSyncPushes     prometheus.Counter
	timeSyncRecipients prometheus.Histogram
	relayMessages      *prometheus.CounterVec
	registry           *prometheus.Registry
}

// NewPrometheus registers all collectors on a private registry so multiple
// instances (tests) do not collide on the global one.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "bidhouse"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		bidsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrator",
			Name:      "bids_total",
			Help:      "Bid attempts by outcome",
		}, []string{"outcome"}),
		bidLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arbitrator",
			Name:      "bid_latency_seconds",
			Help:      "Time from bid receipt to outcome",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		postCommitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrator",
			Name:      "post_commit_failures_total",
			Help:      "Failures after a committed bid (bid log append, fan-out hand-off)",
		}, []string{"stage"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Per-subscriber delta deliveries by result",
		}, []string{"result"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "subscriptions",
			Help:      "Live connection/item subscriptions",
		}),
		timeSyncPushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timesync",
			Name:      "pushes_total",
			Help:      "Periodic time sync broadcasts",
		}),
		timeSyncRecipients: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "timesync",
			Name:      "push_recipients",
			Help:      "Connections reached per time sync broadcast",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		relayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Deltas handed to or received from a relay",
		}, []string{"relay", "status"}),
	}
}

func (m *Prometheus) RecordBid(outcome string, duration time.Duration) {
	m.bidsTotal.WithLabelValues(outcome).Inc()
	m.bidLatency.Observe(duration.Seconds())
}

func (m *Prometheus) RecordPostCommitFailure(stage string) {
	m.postCommitFailures.WithLabelValues(stage).Inc()
}

func (m *Prometheus) RecordDelivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Prometheus) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *Prometheus) SetSubscriptions(n int) {
	m.subscriptions.Set(float64(n))
}

func (m *Prometheus) RecordTimeSyncPush(recipients int) {
	m.timeSyncPushes.Inc()
	m.timeSyncRecipients.Observe(float64(recipients))
}

func (m *Prometheus) RecordRelayMessage(relay string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.relayMessages.WithLabelValues(relay, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}
