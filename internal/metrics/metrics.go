// Package metrics exposes the daemon's operational counters. Everything is
// registered on an owned registry rather than the global one so tests and
// embedded uses can build as many instances as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealbox/go-core/pkg/models"
)

const namespace = "sealbox"

type Metrics struct {
	registry *prometheus.Registry

	deriveDuration       prometheus.Histogram
	operations           *prometheus.CounterVec
	verificationFailures prometheus.Counter
	unlockFailures       prometheus.Counter
	sessionState         prometheus.Gauge
	rpcRequests          *prometheus.CounterVec
	rpcDuration          *prometheus.HistogramVec
}

// New builds the metric set. liveBuffers, when non-nil, is sampled on each
// scrape to report how many secure buffers are currently allocated.
func New(liveBuffers func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		deriveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "derive_duration_seconds",
			Help:      "Duration of full identity derivations (Argon2id + key pair)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Total service operations by name and outcome",
		}, []string{"op", "outcome"}),
		verificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "verification_failures_total",
			Help:      "Total reads rejected because stored content failed verification",
		}),
		unlockFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "unlock_failures_total",
			Help:      "Total failed unlock attempts",
		}),
		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (0 = none, 1 = locked, 2 = unlocked)",
		}),
		rpcRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method"}),
	}

	if liveBuffers != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "securemem",
			Name:      "live_buffers",
			Help:      "Secure buffers currently allocated",
		}, liveBuffers)
	}
	return m
}

// RegisterEventBacklog samples the session change replay buffer on each
// scrape. Register at most once per Metrics instance.
func (m *Metrics) RegisterEventBacklog(fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "event_backlog",
		Help:      "Session change events buffered for subscriber replay",
	}, fn)
}

func (m *Metrics) ObserveDerivation(d time.Duration) {
	m.deriveDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordOperation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) RecordVerificationFailure() {
	m.verificationFailures.Inc()
}

func (m *Metrics) RecordUnlockFailure() {
	m.unlockFailures.Inc()
}

func (m *Metrics) SetSessionState(state models.SessionPhase) {
	switch state {
	case models.SessionUnlocked:
		m.sessionState.Set(2)
	case models.SessionLocked:
		m.sessionState.Set(1)
	default:
		m.sessionState.Set(0)
	}
}

func (m *Metrics) RecordRPC(method string, started time.Time, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
