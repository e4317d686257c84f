// Package metrics exposes Prometheus collectors for the routing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "routing"

// Route outcomes used as the "outcome" label of routes finished.
const (
	OutcomeDone     = "done"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	nodeSteps            *prometheus.CounterVec
	routesFinished       *prometheus.CounterVec
	tasksCreated         prometheus.Counter
	tasksCanceled        prometheus.Counter
	taskInfoSynthesized  prometheus.Counter
	escalationsScheduled prometheus.Counter
	escalationsExecuted  prometheus.Counter
	modelCacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_steps_total",
				Help:      "Node state machine steps executed by the runner",
			},
			[]string{"state"},
		),
		routesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routes_finished_total",
				Help:      "Route instances that left the running state",
			},
			[]string{"outcome"},
		),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Human tasks created by suspended nodes",
		}),
		tasksCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_canceled_total",
			Help:      "Human tasks canceled by the engine",
		}),
		taskInfoSynthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_info_synthesized_total",
			Help:      "Task outcomes recorded for a task the node did not know about",
		}),
		escalationsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_scheduled_total",
			Help:      "Escalation rules handed to the work scheduler",
		}),
		escalationsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_executed_total",
			Help:      "Escalation rule chains executed",
		}),
		modelCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_cache_lookups_total",
				Help:      "Route model resolutions by cache result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.nodeSteps,
			m.routesFinished,
			m.tasksCreated,
			m.tasksCanceled,
			m.taskInfoSynthesized,
			m.escalationsScheduled,
			m.escalationsExecuted,
			m.modelCacheLookups,
		)
	}

	return m
}

func (m *Metrics) NodeStep(state string) {
	if m == nil {
		return
	}

	m.nodeSteps.WithLabelValues(state).Inc()
}

func (m *Metrics) RouteFinished(outcome string) {
	if m == nil {
		return
	}

	m.routesFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskCreated() {
	if m == nil {
		return
	}

	m.tasksCreated.Inc()
}

func (m *Metrics) TaskCanceled() {
	if m == nil {
		return
	}

	m.tasksCanceled.Inc()
}

func (m *Metrics) TaskInfoSynthesized() {
	if m == nil {
		return
	}

	m.taskInfoSynthesized.Inc()
}

func (m *Metrics) EscalationScheduled() {
	if m == nil {
		return
	}

	m.escalationsScheduled.Inc()
}

func (m *Metrics) EscalationExecuted() {
	if m == nil {
		return
	}

	m.escalationsExecuted.Inc()
}

// ModelCacheLookup records a model resolution; hit is false when the store was queried.
func (m *Metrics) ModelCacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.modelCacheLookups.WithLabelValues(result).Inc()
}
