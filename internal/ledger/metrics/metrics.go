package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	EntriesWritten      *prometheus.CounterVec
	InsufficientBalance prometheus.Counter
	ProjectionDrift     prometheus.Counter
	WriteDuration       prometheus.Histogram
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		EntriesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_ledger_entries_total",
			Help: "Ledger entries written, by type and status at write time",
		}, []string{"type", "status"}),
		InsufficientBalance: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_ledger_insufficient_balance_total",
			Help: "Reservations refused because available balance was too low",
		}),
		ProjectionDrift: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_ledger_projection_drift_total",
			Help: "Verify runs where the projection disagreed with the entries",
		}),
		WriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinledger_ledger_write_duration_seconds",
			Help:    "Duration of ledger write transactions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementEntry(kind, status string) {
	if m == nil {
		return
	}
	m.EntriesWritten.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncrementInsufficientBalance() {
	if m == nil {
		return
	}
	m.InsufficientBalance.Inc()
}

func (m *Metrics) IncrementDrift() {
	if m == nil {
		return
	}
	m.ProjectionDrift.Inc()
}

// ObserveWrite records the duration of a write. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveWrite(start time.Time) {
	if m == nil {
		return
	}
	m.WriteDuration.Observe(time.Since(start).Seconds())
}
