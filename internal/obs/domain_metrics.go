package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SalesSubmittedTotal counts sale submission outcomes.
	SalesSubmittedTotal *prometheus.CounterVec
	// CartRejectionsTotal counts rejected cart mutations by reason.
	CartRejectionsTotal *prometheus.CounterVec
	// SearchesTotal counts variant searches by outcome, including superseded.
	SearchesTotal *prometheus.CounterVec
	// HeldCartsTotal counts hold, resume and discard actions.
	HeldCartsTotal *prometheus.CounterVec
	// SessionsOpenedTotal counts billing sessions opened.
	SessionsOpenedTotal prometheus.Counter
	// ReconcileDrift records the absolute preview vs server grand total gap.
	ReconcileDrift prometheus.Histogram
	// ReconcileMismatchTotal counts sales whose server total differed.
	ReconcileMismatchTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers billing Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SalesSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_submitted_total",
			Help:      "Count of sale submission outcomes.",
		}, []string{"payment_mode", "result"})
		CartRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_rejections_total",
			Help:      "Count of rejected cart mutations.",
		}, []string{"reason"})
		SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variant_searches_total",
			Help:      "Count of variant searches by outcome.",
		}, []string{"result"})
		HeldCartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "held_carts_total",
			Help:      "Count of held cart actions.",
		}, []string{"action"})
		SessionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_sessions_opened_total",
			Help:      "Total number of billing sessions opened.",
		})
		ReconcileDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_grand_total_drift",
			Help:      "Absolute difference between previewed and server grand totals.",
			Buckets:   []float64{0.01, 0.02, 0.05, 0.1, 0.5, 1, 5, 10},
		})
		ReconcileMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mismatch_total",
			Help:      "Number of sales whose server grand total differed from the preview.",
		})

		mustRegisterCollector(reg, SalesSubmittedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SalesSubmittedTotal = v
			}
		})
		mustRegisterCollector(reg, CartRejectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartRejectionsTotal = v
			}
		})
		mustRegisterCollector(reg, SearchesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SearchesTotal = v
			}
		})
		mustRegisterCollector(reg, HeldCartsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				HeldCartsTotal = v
			}
		})
		mustRegisterCollector(reg, SessionsOpenedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				SessionsOpenedTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileDrift, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				ReconcileDrift = v
			}
		})
		mustRegisterCollector(reg, ReconcileMismatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileMismatchTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// IncCounter increments vec when domain metrics are registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
