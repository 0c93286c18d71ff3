package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsCreatedTotal counts persisted bills by payment method.
	BillsCreatedTotal *prometheus.CounterVec
	// BillRejectionsTotal counts bill previews and creations refused by validation or payment rules.
	BillRejectionsTotal *prometheus.CounterVec
	// BillGrandTotal records the distribution of grand totals in whole currency units.
	BillGrandTotal prometheus.Histogram
	// PaymentVerificationTotal counts card/UPI verification outcomes per verifier.
	PaymentVerificationTotal *prometheus.CounterVec
	// DomainEventsTotal counts emitted domain events by topic.
	DomainEventsTotal *prometheus.CounterVec
	// SettlementTasksTotal counts processed post-commit settlement tasks by result.
	SettlementTasksTotal *prometheus.CounterVec
	// BreakerState exposes the circuit state per outbound target: 0=closed, 1=open, 2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts circuit state transitions.
	BreakerTransitions *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillsCreatedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "Count of bills persisted, by payment method.",
		}, []string{"method"}))
		BillRejectionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_rejections_total",
			Help:      "Count of bill requests rejected, by stage and reason.",
		}, []string{"stage", "reason"}))
		BillGrandTotal = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_grand_total",
			Help:      "Distribution of bill grand totals.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000},
		}))
		PaymentVerificationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of card and UPI verification outcomes.",
		}, []string{"verifier", "method", "result"}))
		DomainEventsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Count of emitted domain events by topic.",
		}, []string{"topic"}))
		SettlementTasksTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_tasks_total",
			Help:      "Count of bill settlement tasks processed by result.",
		}, []string{"result"}))
		BreakerState = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open.",
		}, []string{"target"}))
		BreakerTransitions = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions.",
		}, []string{"target", "from", "to"}))
	})
}
