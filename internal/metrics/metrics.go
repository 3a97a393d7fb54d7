// Package metrics exposes Prometheus instrumentation for the monitor.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "stressmon_"

type Metrics struct {
	registry *prometheus.Registry

	streamConnects   *prometheus.CounterVec
	streamFrames     *prometheus.CounterVec
	polls            *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	listenerPanics   prometheus.Counter
	finalFetches     *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	pollFetchLatency prometheus.Histogram
}

// New creates the collectors on a private registry so several instances
// can coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streamConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "stream_connects_total",
			Help: "Push-channel connection attempts by result",
		}, []string{"result"}),
		streamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "stream_frames_total",
			Help: "Push-channel frames by outcome",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "polls_total",
			Help: "Summary polls by outcome",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "broadcast_deliveries_total",
			Help: "Listener deliveries by channel",
		}, []string{"channel"}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "listener_panics_total",
			Help: "Listener callbacks that panicked during broadcast",
		}),
		finalFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "final_result_fetches_total",
			Help: "Final result fetches by result",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "active_sessions",
			Help: "Sessions currently monitored",
		}),
		pollFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "poll_fetch_seconds",
			Help:    "Latency of summary fetches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
	m.registry.MustRegister(
		m.streamConnects,
		m.streamFrames,
		m.polls,
		m.broadcasts,
		m.listenerPanics,
		m.finalFetches,
		m.activeSessions,
		m.pollFetchLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StreamConnect(ok bool) {
	if m == nil {
		return
	}
	m.streamConnects.WithLabelValues(result(ok)).Inc()
}

// StreamFrame records a received frame; outcome is delivered, malformed or stale.
func (m *Metrics) StreamFrame(outcome string) {
	if m == nil {
		return
	}
	m.streamFrames.WithLabelValues(outcome).Inc()
}

// Poll records a poll; outcome is data, empty, terminal, not_found or error.
func (m *Metrics) Poll(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.pollFetchLatency.Observe(seconds)
}

func (m *Metrics) Delivered(channel string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(channel).Inc()
}

func (m *Metrics) ListenerPanic() {
	if m == nil {
		return
	}
	m.listenerPanics.Inc()
}

func (m *Metrics) FinalFetch(ok bool) {
	if m == nil {
		return
	}
	m.finalFetches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
