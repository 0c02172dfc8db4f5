package engine

import (
	"time"

	"go-flowgate/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowgate"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	ActionDuration    *prometheus.HistogramVec
	InstancesStarted  prometheus.Counter
	InstancesFinished *prometheus.CounterVec
	HITLRequests      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_transitions_total",
				Help:      "Task execution status transitions",
			},
			[]string{"from", "to"},
		),

		// Buckets: 10ms .. 60s, action runners usually call out over the network
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action runner calls in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"task_type", "outcome"},
		),

		InstancesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Workflow instances started",
		}),

		InstancesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_finished_total",
				Help:      "Workflow instances that left ACTIVE, by final status",
			},
			[]string{"status"},
		),

		HITLRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hitl_requests_total",
			Help:      "Approval requests raised for HITL tasks",
		}),
	}
}

func (m *Metrics) recordTransition(from, to domain.ExecutionStatus) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) recordAction(taskType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActionDuration.WithLabelValues(taskType, outcome).Observe(d.Seconds())
}

func (m *Metrics) recordStarted() {
	if m == nil {
		return
	}
	m.InstancesStarted.Inc()
}

func (m *Metrics) recordFinished(status domain.InstanceStatus) {
	if m == nil {
		return
	}
	m.InstancesFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) recordHITL() {
	if m == nil {
		return
	}
	m.HITLRequests.Inc()
}
