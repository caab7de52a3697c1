package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus metrics for the growth agent. A nil
// *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	Actions      *prometheus.CounterVec
	APIResponses *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	BreakerState *prometheus.GaugeVec
}

// NewRegistry creates and registers all metrics on a private registry
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hevygrow_actions_total",
				Help: "Successful follow, unfollow and like actions",
			},
			[]string{"engine", "action"},
		),

		APIResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hevygrow_api_responses_total",
				Help: "Remote API responses by endpoint and status class",
			},
			[]string{"endpoint", "class"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hevygrow_runs_total",
				Help: "Engine runs by terminal outcome",
			},
			[]string{"engine", "outcome"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hevygrow_run_duration_seconds",
				Help:    "Wall time of a single engine run",
				Buckets: []float64{1, 10, 30, 60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"engine"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hevygrow_circuit_state",
				Help: "Outbound circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}

	r.reg.MustRegister(r.Actions, r.APIResponses, r.Runs, r.RunDuration, r.BreakerState)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordAction counts one successful action
func (r *Registry) RecordAction(engine, action string) {
	if r == nil {
		return
	}
	r.Actions.WithLabelValues(engine, action).Inc()
}

// RecordResponse counts one remote response; status 0 means no response
func (r *Registry) RecordResponse(endpoint string, status int) {
	if r == nil {
		return
	}
	r.APIResponses.WithLabelValues(endpoint, StatusClass(status)).Inc()
}

// RecordRun counts a finished run and observes its duration
func (r *Registry) RecordRun(engine, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(engine, outcome).Inc()
	r.RunDuration.WithLabelValues(engine).Observe(took.Seconds())
}

// SetBreakerState publishes the breaker state as a gauge
func (r *Registry) SetBreakerState(name string, state int) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(name).Set(float64(state))
}

// ActionTotal reads the current value of an action counter
func (r *Registry) ActionTotal(engine, action string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.Actions.WithLabelValues(engine, action))
}

// RunTotal reads the current value of a run counter
func (r *Registry) RunTotal(engine, outcome string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.Runs.WithLabelValues(engine, outcome))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		log.Debug().Err(err).Msg("failed to read counter")
		return 0
	}
	return m.GetCounter().GetValue()
}

// StatusClass buckets an HTTP status for labelling: "2xx", "429", "network", ...
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "network"
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 100 && status < 600:
		return strconv.Itoa(status/100) + "xx"
	default:
		return "other"
	}
}
