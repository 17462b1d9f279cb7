package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RegistrySize tracks how many instances the master currently
	// supervises.
	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_registry_size",
			Help: "Number of worker instances currently in the WorkerRegistry",
		},
	)

	InstancesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_instances_by_state",
			Help: "Number of worker instances by last observed cloud power state",
		},
		[]string{"state"},
	)

	InstanceRebootsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_instance_reboots_total",
			Help: "Total number of reboots issued across all instances",
		},
	)

	InstanceTerminateAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_instance_terminate_attempts_total",
			Help: "Total number of termination attempts across all instances",
		},
	)

	InstanceTerminateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_instance_terminate_failures_total",
			Help: "Total number of termination attempts that failed",
		},
	)

	InstancesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_instances_dropped_total",
			Help: "Total number of instances force-removed from the registry after exhausting the termination budget",
		},
	)

	MaintainTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_maintain_tick_duration_seconds",
			Help:    "Time taken for one monitor loop pass over the registry",
			Buckets: prometheus.DefBuckets,
		},
	)

	CloudLookupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_cloud_lookup_failures_total",
			Help: "Total number of CloudAdapter lookup failures swallowed by a Maintain tick",
		},
	)
)

func init() {
	prometheus.MustRegister(RegistrySize)
	prometheus.MustRegister(InstancesByState)
	prometheus.MustRegister(InstanceRebootsTotal)
	prometheus.MustRegister(InstanceTerminateAttemptsTotal)
	prometheus.MustRegister(InstanceTerminateFailuresTotal)
	prometheus.MustRegister(InstancesDroppedTotal)
	prometheus.MustRegister(MaintainTickDuration)
	prometheus.MustRegister(CloudLookupFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
