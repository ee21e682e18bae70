// Package metrics exposes scheduler activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// Run outcome label values.
const (
	RunFinished = "finished"
	RunStopped  = "stopped"
	RunDeadlock = "deadlock"
)

// Recorder holds the scheduler's collectors. A nil Recorder is a no-op.
type Recorder struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
	pending      prometheus.Gauge
	running      prometheus.Gauge
	breakerOpen  *prometheus.GaugeVec
}

// New creates a recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_tasks_total",
				Help: "Total number of tasks finished, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_task_duration_seconds",
				Help:    "Task run duration including retries, in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_task_retries_total",
				Help: "Total number of retry attempts, by kind.",
			},
			[]string{"kind"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_runs_total",
				Help: "Total number of scheduler runs, by outcome.",
			},
			[]string{"outcome"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpilot_queue_pending",
			Help: "Number of tasks waiting in the pending queue.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpilot_tasks_running",
			Help: "Number of tasks currently running.",
		}),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpilot_breaker_open",
				Help: "1 while the circuit breaker for a kind is open.",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(r.tasksTotal, r.taskDuration, r.retriesTotal, r.runsTotal, r.pending, r.running, r.breakerOpen)

	for _, outcome := range []string{RunFinished, RunStopped, RunDeadlock} {
		r.runsTotal.WithLabelValues(outcome)
	}
	return r
}

// TaskFinished records a task reaching a terminal status.
func (r *Recorder) TaskFinished(kind, outcome string, retries int, d time.Duration) {
	if r == nil {
		return
	}
	r.tasksTotal.WithLabelValues(kind, outcome).Inc()
	r.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
	if retries > 0 {
		r.retriesTotal.WithLabelValues(kind).Add(float64(retries))
	}
}

// Queue sets the pending and running gauges.
func (r *Recorder) Queue(pending, running int) {
	if r == nil {
		return
	}
	r.pending.Set(float64(pending))
	r.running.Set(float64(running))
}

// RunFinished records the end of a scheduler run.
func (r *Recorder) RunFinished(outcome string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(outcome).Inc()
}

// BreakerState records whether the breaker for kind is open.
func (r *Recorder) BreakerState(kind string, open bool) {
	if r == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	r.breakerOpen.WithLabelValues(kind).Set(v)
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
