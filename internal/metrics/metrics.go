// Package metrics exposes gateway counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_gateway"

// Outcome label values shared by the counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAdopted = "adopted"
)

// Recorder holds the counters. All methods are safe on a nil *Recorder.
type Recorder struct {
	registry     *prometheus.Registry
	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	logouts      *prometheus.CounterVec
	guardDenials *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Session refreshes by outcome. adopted counts refreshes completed by another request or instance.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Logouts by outcome.",
		}, []string{"outcome"}),
		guardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_denials_total",
			Help:      "Requests denied for a missing role.",
		}, []string{"role"}),
	}

	r.registry.MustRegister(
		r.logins,
		r.refreshes,
		r.logouts,
		r.guardDenials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Outcome reduces an error to a label value.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func (r *Recorder) Login(outcome string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Logout(outcome string) {
	if r == nil {
		return
	}
	r.logouts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) GuardDenied(role string) {
	if r == nil {
		return
	}
	r.guardDenials.WithLabelValues(role).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
