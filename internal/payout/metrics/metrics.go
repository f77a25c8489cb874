package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes         *prometheus.CounterVec
	DispatchAttempts *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	BreakerState     *prometheus.GaugeVec
	JobRuns          *prometheus.CounterVec
	OverdueAlerts    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_payouts_total",
			Help: "Payout state changes, by resulting status",
		}, []string{"status"}),
		DispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_payout_dispatch_attempts_total",
			Help: "Transfer attempts against the rail, by rail and result",
		}, []string{"rail", "result"}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinledger_payout_dispatch_duration_seconds",
			Help:    "Time spent dispatching a payout including retries",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kinledger_payout_breaker_state",
			Help: "Rail circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"rail"}),
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_payout_job_runs_total",
			Help: "Scheduled payout job runs, by result",
		}, []string{"result"}),
		OverdueAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_payout_confirmation_overdue_total",
			Help: "Payouts flagged for missing provider confirmation",
		}),
	}
}

func (m *Metrics) IncrementOutcome(status string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementAttempt(rail, result string) {
	if m == nil {
		return
	}
	m.DispatchAttempts.WithLabelValues(rail, result).Inc()
}

func (m *Metrics) ObserveDispatch(start time.Time) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetBreakerState(rail string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(rail).Set(state)
}

func (m *Metrics) IncrementJobRun(result string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementOverdue() {
	if m == nil {
		return
	}
	m.OverdueAlerts.Inc()
}
