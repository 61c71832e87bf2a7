package ar

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// Metrics exposes Prometheus collectors for ledger mutations. A nil *Metrics
// records nothing.
type Metrics struct {
	applications *prometheus.CounterVec
	reversals    *prometheus.CounterVec
	applied      prometheus.Counter
}

// NewMetrics registers the ledger metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	applications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ar_applications_total",
		Help: "ApplyCredit calls partitioned by outcome.",
	}, []string{"outcome"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ar_reversals_total",
		Help: "ReverseApplication calls partitioned by outcome.",
	}, []string{"outcome"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ar_applied_amount_total",
		Help: "Sum of committed application amounts, in currency units.",
	})
	registerer.MustRegister(applications, reversals, applied)
	return &Metrics{applications: applications, reversals: reversals, applied: applied}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return kindLabel(err)
}

func (m *Metrics) observeApply(err error) {
	if m == nil {
		return
	}
	m.applications.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeReversal(err error) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) addApplied(amount money.Money) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.applied.Add(amount.Decimal().InexactFloat64())
}
