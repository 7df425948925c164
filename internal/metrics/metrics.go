// Package metrics exposes Prometheus instrumentation for the rescue
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pipeline updates. Instances are wired in
// explicitly; there is no package-level state beyond the registerer the
// caller chooses.
type Metrics struct {
	balanceTriggers    prometheus.Counter
	droppedTriggers    prometheus.Counter
	attemptsTotal      *prometheus.CounterVec
	submissionsTotal   *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	watcherPollMode    prometheus.Gauge
	rescuedWei         prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		balanceTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweepguard_balance_triggers_total",
			Help: "Strict balance increases observed by the watcher.",
		}),
		droppedTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweepguard_dropped_triggers_total",
			Help: "Balance triggers dropped because an attempt was already in flight.",
		}),
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepguard_attempts_total",
			Help: "Rescue attempts by terminal outcome.",
		}, []string{"outcome"}),
		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepguard_submissions_total",
			Help: "Per-target bundle submissions by resolution.",
		}, []string{"status"}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepguard_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"breaker", "to"}),
		watcherPollMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sweepguard_watcher_poll_mode",
			Help: "1 while the watcher runs in poll fallback, 0 in push mode.",
		}),
		rescuedWei: factory.NewCounter(prometheus.CounterOpts{
			Name: "sweepguard_rescued_wei_total",
			Help: "Total wei swept to the safe destination.",
		}),
	}
}

func (m *Metrics) BalanceTrigger() { m.balanceTriggers.Inc() }
func (m *Metrics) TriggerDropped() { m.droppedTriggers.Inc() }

func (m *Metrics) AttemptFinished(outcome string) {
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubmissionResolved(status string) {
	m.submissionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) BreakerTransition(breaker, to string) {
	m.breakerTransitions.WithLabelValues(breaker, to).Inc()
}

func (m *Metrics) SetPollMode(poll bool) {
	if poll {
		m.watcherPollMode.Set(1)
	} else {
		m.watcherPollMode.Set(0)
	}
}

// AmountRescued records a successful sweep. The counter loses precision past
// 2^53 wei per increment; acceptable for dashboards.
func (m *Metrics) AmountRescued(wei float64) {
	m.rescuedWei.Add(wei)
}
