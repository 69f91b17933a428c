// Package metrics holds the Prometheus instruments of the launch service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Registry holds every launch metric on its own prometheus registry
type Registry struct {
	reg *prometheus.Registry

	// Stage duration metrics
	StageDuration *prometheus.HistogramVec

	// Outcomes by terminal kind ("confirmed" or the failure kind)
	Outcomes *prometheus.CounterVec
	Stranded prometheus.Counter

	// Broadcast metrics
	RelayAttempts *prometheus.CounterVec
	RelayLatency  *prometheus.HistogramVec
	Paths         *prometheus.CounterVec

	ActiveLaunches prometheus.Gauge
	TotalLaunches  prometheus.Counter
}

// NewRegistry creates and registers every metric. withRuntime adds the Go
// runtime and process collectors.
func NewRegistry(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postlaunch_stage_duration_seconds",
				Help:    "Duration of each launch stage in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage", "result"},
		),

		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postlaunch_launch_outcomes_total",
				Help: "Finished launch runs by outcome",
			},
			[]string{"outcome"},
		),

		Stranded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postlaunch_stranded_assets_total",
				Help: "Runs that failed after the asset was created",
			},
		),

		RelayAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postlaunch_relay_attempts_total",
				Help: "Bundle submissions by relay and result",
			},
			[]string{"relay", "result"},
		),

		RelayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postlaunch_relay_latency_seconds",
				Help:    "Bundle submission latency by relay",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"relay"},
		),

		Paths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postlaunch_broadcast_path_total",
				Help: "Accepted batches by submission path (bundle or direct)",
			},
			[]string{"path"},
		),

		ActiveLaunches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "postlaunch_active_launches",
				Help: "Launch runs currently in progress",
			},
		),

		TotalLaunches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postlaunch_launches_total",
				Help: "Launch runs started, including resumes",
			},
		),
	}

	r.reg.MustRegister(
		r.StageDuration,
		r.Outcomes,
		r.Stranded,
		r.RelayAttempts,
		r.RelayLatency,
		r.Paths,
		r.ActiveLaunches,
		r.TotalLaunches,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StageTimer tracks execution time for one stage
type StageTimer struct {
	metrics *Registry
	stage   launch.Stage
	start   time.Time
}

// StartStage begins timing a stage
func (r *Registry) StartStage(stage launch.Stage) *StageTimer {
	return &StageTimer{metrics: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration under result
func (st *StageTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(string(st.stage), result).Observe(duration.Seconds())

	log.Debug().
		Str("stage", string(st.stage)).
		Str("result", result).
		Dur("duration", duration).
		Msg("Launch stage completed")
}

// LaunchStarted marks a run as in progress
func (r *Registry) LaunchStarted() {
	r.ActiveLaunches.Inc()
	r.TotalLaunches.Inc()
}

// LaunchFinished records the outcome of a run; f is nil on success
func (r *Registry) LaunchFinished(f *launch.Failure) {
	r.ActiveLaunches.Dec()
	if f == nil {
		r.Outcomes.WithLabelValues("confirmed").Inc()
		return
	}
	r.Outcomes.WithLabelValues(string(f.Kind)).Inc()
	if f.Stranded() {
		r.Stranded.Inc()
	}
}

// RelayAttempt implements broadcast.Observer
func (r *Registry) RelayAttempt(relay string, ok bool, elapsed time.Duration) {
	result := ResultError
	if ok {
		result = ResultSuccess
	}
	r.RelayAttempts.WithLabelValues(relay, result).Inc()
	r.RelayLatency.WithLabelValues(relay).Observe(elapsed.Seconds())
}

// BroadcastPath implements broadcast.Observer
func (r *Registry) BroadcastPath(path launch.ProofKind) {
	r.Paths.WithLabelValues(string(path)).Inc()
}

// Active returns the current number of in-progress runs
func (r *Registry) Active() int {
	m := &dto.Metric{}
	if err := r.ActiveLaunches.Write(m); err != nil {
		return 0
	}
	return int(m.GetGauge().GetValue())
}
