// Package metrics records deploy outcomes in a private Prometheus registry
// and writes them in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stepBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Recorder collects deploy metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runTotal     *prometheus.CounterVec
	lastRun      *prometheus.GaugeVec
	healthUp     *prometheus.GaugeVec
}

// New returns a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.stepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "djdeploy",
		Name:      "steps_total",
		Help:      "Deploy steps by outcome.",
	}, []string{"environment", "host", "step", "outcome"})

	r.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "djdeploy",
		Name:      "step_duration_seconds",
		Help:      "Wall time of executed deploy steps.",
		Buckets:   stepBuckets,
	}, []string{"environment", "step"})

	r.runTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "djdeploy",
		Name:      "runs_total",
		Help:      "Controller invocations by command and outcome.",
	}, []string{"environment", "command", "outcome"})

	r.lastRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "djdeploy",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last invocation finished.",
	}, []string{"environment", "command"})

	r.healthUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "djdeploy",
		Name:      "site_up",
		Help:      "1 if the last health check passed.",
	}, []string{"environment"})

	r.registry.MustRegister(r.stepTotal, r.stepDuration, r.runTotal, r.lastRun, r.healthUp)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveStep records one step. duration is ignored for skipped steps.
func (r *Recorder) ObserveStep(env, host, step, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.stepTotal.With(prometheus.Labels{
		"environment": env,
		"host":        host,
		"step":        step,
		"outcome":     outcome,
	}).Inc()
	if outcome != "skipped" {
		r.stepDuration.With(prometheus.Labels{"environment": env, "step": step}).Observe(duration.Seconds())
	}
}

// ObserveRun records a finished controller invocation.
func (r *Recorder) ObserveRun(env, command string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.runTotal.With(prometheus.Labels{"environment": env, "command": command, "outcome": outcome}).Inc()
	r.lastRun.With(prometheus.Labels{"environment": env, "command": command}).SetToCurrentTime()
}

// ObserveHealth records the health check result.
func (r *Recorder) ObserveHealth(env string, passed bool) {
	if r == nil {
		return
	}
	v := 0.0
	if passed {
		v = 1
	}
	r.healthUp.With(prometheus.Labels{"environment": env}).Set(v)
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
