package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	jobStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobsup",
			Subsystem: "job",
			Name:      "starts_total",
			Help:      "Number of Run calls that successfully spawned a process.",
		}, []string{"job_id"},
	)
	jobSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobsup",
			Subsystem: "job",
			Name:      "spawn_failures_total",
			Help:      "Number of Run calls that failed to spawn a process (failed_start).",
		}, []string{"job_id"},
	)
	jobStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobsup",
			Subsystem: "job",
			Name:      "stops_total",
			Help:      "Number of Stop calls that moved a non-terminal job to stopped.",
		}, []string{"job_id"},
	)
	jobExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobsup",
			Subsystem: "job",
			Name:      "exits_total",
			Help:      "Number of process exits observed by the reaper, by resulting status.",
		}, []string{"job_id", "status"},
	)
	runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobsup",
			Subsystem: "job",
			Name:      "running",
			Help:      "Current number of jobs with a live registered process.",
		},
	)
	reaperCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobsup",
			Subsystem: "reaper",
			Name:      "cycles_total",
			Help:      "Number of reaper polling cycles completed.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{jobStarts, jobSpawnFailures, jobStops, jobExits, runningJobs, reaperCycles}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller is responsible for wiring it into an HTTP
// server; jobsup itself never listens on a socket.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has been called, so embedding
// callers that don't care about metrics never pay for label allocation.

func IncStart(jobID string) {
	if regOK.Load() {
		jobStarts.WithLabelValues(jobID).Inc()
	}
}

func IncSpawnFailure(jobID string) {
	if regOK.Load() {
		jobSpawnFailures.WithLabelValues(jobID).Inc()
	}
}

func IncStop(jobID string) {
	if regOK.Load() {
		jobStops.WithLabelValues(jobID).Inc()
	}
}

func IncExit(jobID, status string) {
	if regOK.Load() {
		jobExits.WithLabelValues(jobID, status).Inc()
	}
}

func SetRunningJobs(n int) {
	if regOK.Load() {
		runningJobs.Set(float64(n))
	}
}

func IncReaperCycle() {
	if regOK.Load() {
		reaperCycles.Inc()
	}
}
