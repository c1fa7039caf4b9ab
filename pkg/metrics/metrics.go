// Package metrics exposes run counters in Prometheus format. Long unattended
// runs are watched remotely; the optional /metrics listener is how an
// operator sees progress without touching the ledger.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks per-run counters. A nil *Collector is a valid no-op so
// callers do not need metrics wiring in tests.
type Collector struct {
	registry *prometheus.Registry

	outcomes   *prometheus.CounterVec
	retries    prometheus.Counter
	challenges *prometheus.CounterVec
	steps      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmint_records_total",
			Help: "Records finished, by ledger outcome",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchmint_retries_total",
			Help: "Sub-step retries after transient failures",
		}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmint_challenges_total",
			Help: "Anti-automation challenges encountered, by result",
		}, []string{"result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchmint_steps_total",
			Help: "Driver sub-steps executed, by step and result",
		}, []string{"step", "result"}),
	}
	c.registry.MustRegister(c.outcomes, c.retries, c.challenges, c.steps)
	return c
}

// RecordOutcome counts a finished record
func (c *Collector) RecordOutcome(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

// RecordRetry counts one transient retry
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// RecordChallenge counts a challenge attempt
func (c *Collector) RecordChallenge(solved bool) {
	if c == nil {
		return
	}
	result := "failed"
	if solved {
		result = "solved"
	}
	c.challenges.WithLabelValues(result).Inc()
}

// RecordStep counts one driver call
func (c *Collector) RecordStep(step, result string) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(step, result).Inc()
}

// Handler serves the registry in Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts a /metrics listener on port. The returned server is shut down
// by the caller's shutdown manager.
func (c *Collector) Serve(port int) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics port %d: %w", port, err)
	}
	go srv.Serve(ln)
	return srv, nil
}
