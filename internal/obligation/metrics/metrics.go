package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Created     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Conflicts   prometheus.Counter
	Recurrences prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_requests_created_total",
			Help: "Requests created, by source",
		}, []string{"source"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_request_transitions_total",
			Help: "Request status transitions, by target status",
		}, []string{"status"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_request_transition_conflicts_total",
			Help: "Transitions refused because the request was in the wrong state",
		}),
		Recurrences: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_request_recurrences_total",
			Help: "Follow-up requests created for paid recurring requests",
		}),
	}
}

func (m *Metrics) IncrementCreated(source string) {
	if m == nil {
		return
	}
	m.Created.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncrementRecurrence() {
	if m == nil {
		return
	}
	m.Recurrences.Inc()
}
