// Package metrics exposes the usage-event sink the outer layer may tap
// (C10), backed by prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nolanhoward/llmproxy/internal/repository"
)

// Sink receives a completed usage event. Implementations must not block
// the request path; PrometheusSink's Observe is non-blocking.
type Sink interface {
	Observe(event repository.UsageEvent)
}

// NoopSink discards every event; used when no metrics backend is wired.
type NoopSink struct{}

func (NoopSink) Observe(repository.UsageEvent) {}

// PrometheusSink records request counts, latency, and auto-disable state
// as Prometheus metrics registered against reg.
type PrometheusSink struct {
	requestsTotal   *prometheus.CounterVec
	latencyMs       *prometheus.HistogramVec
	autoDisabled    prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmproxy_requests_total",
			Help: "Total proxied upstream attempts by protocol and outcome.",
		}, []string{"protocol", "success"}),
		latencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmproxy_request_latency_ms",
			Help:    "Upstream attempt latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"protocol"}),
		autoDisabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llmproxy_auto_disabled_entities",
			Help: "Count of entities currently quarantined by the auto-disable FSM, as of the last observed event.",
		}),
	}
}

func (s *PrometheusSink) Observe(e repository.UsageEvent) {
	success := "false"
	if e.Success {
		success = "true"
	}
	s.requestsTotal.WithLabelValues(string(e.Protocol), success).Inc()
	s.latencyMs.WithLabelValues(string(e.Protocol)).Observe(float64(e.LatencyMs))
}

// SetAutoDisabledCount updates the quarantine gauge; called by the outer
// admin layer's periodic sweep, not by the request path.
func (s *PrometheusSink) SetAutoDisabledCount(n int) {
	s.autoDisabled.Set(float64(n))
}

var _ Sink = (*PrometheusSink)(nil)
