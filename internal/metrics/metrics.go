// Package metrics provides Prometheus collectors and the HTTP handler for
// exporting instance lifecycle metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemeral_pg_instances_started_total",
			Help: "Total containers created and registered",
		},
	)
	promProvisioningFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemeral_pg_provisioning_failures_total",
			Help: "Total start attempts the runtime could not fulfil",
		},
	)
	promReadinessTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemeral_pg_readiness_timeouts_total",
			Help: "Total instances that did not answer a query within their budget",
		},
	)
	promTeardown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemeral_pg_teardowns_total",
			Help: "Total teardown attempts by outcome",
		},
		[]string{"outcome"},
	)
	promLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemeral_pg_live_instances",
			Help: "Instances currently tracked by the registry",
		},
	)
	promReadinessWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ephemeral_pg_readiness_wait_seconds",
			Help: "Time spent waiting for instances to accept queries",
			Buckets: []float64{
				0.25,
				0.5,
				1,
				2,
				5,
				10,
				30,
				60,
			},
		},
	)
)

// Teardown outcomes.
const (
	OutcomeStopped = "stopped"
	OutcomeGone    = "gone"
	OutcomeFailed  = "failed"
)

func init() {
	prometheus.MustRegister(
		promStarted,
		promProvisioningFailed,
		promReadinessTimeouts,
		promTeardown,
		promLive,
		promReadinessWait,
	)
}

// IncStarted counts a container that was created and registered.
func IncStarted() {
	promStarted.Inc()
}

// IncProvisioningFailed counts a start attempt that failed in the runtime.
func IncProvisioningFailed() {
	promProvisioningFailed.Inc()
}

// IncReadinessTimeout counts an instance that never became ready.
func IncReadinessTimeout() {
	promReadinessTimeouts.Inc()
}

// IncTeardown counts a teardown attempt with the given outcome.
func IncTeardown(outcome string) {
	promTeardown.WithLabelValues(outcome).Inc()
}

// SetLive records the number of registered instances.
func SetLive(n int) {
	promLive.Set(float64(n))
}

// ObserveReadinessWait records how long a readiness wait took.
func ObserveReadinessWait(d time.Duration) {
	promReadinessWait.Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
