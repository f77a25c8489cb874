package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Events          *prometheus.CounterVec
	Unverified      *prometheus.CounterVec
	OrphansExpired  prometheus.Counter
	OrphansResolved prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_webhook_events_total",
			Help: "Provider webhook events, by provider and disposition",
		}, []string{"provider", "disposition"}),
		Unverified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_webhook_unverified_total",
			Help: "Webhook deliveries that failed authentication or parsing",
		}, []string{"provider"}),
		OrphansExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_reconciliation_orphans_expired_total",
			Help: "Orphaned events expired for manual review",
		}),
		OrphansResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_reconciliation_orphans_resolved_total",
			Help: "Orphaned events applied once their target appeared",
		}),
	}
}

func (m *Metrics) IncrementEvent(provider, disposition string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(provider, disposition).Inc()
}

func (m *Metrics) IncrementUnverified(provider string) {
	if m == nil {
		return
	}
	m.Unverified.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncrementExpired() {
	if m == nil {
		return
	}
	m.OrphansExpired.Inc()
}

func (m *Metrics) AddResolved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OrphansResolved.Add(float64(n))
}
