// Package metrics exposes the portal's prometheus counters on a dedicated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	PaymentPolls *prometheus.CounterVec
	Conversions  *prometheus.CounterVec
	Reconciles   *prometheus.CounterVec
	Visitors     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PaymentPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_payment_poll_total",
			Help: "Subscription status polls by outcome.",
		}, []string{"outcome"}),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_conversions_total",
			Help: "Conversion attempts by quota lane and outcome.",
		}, []string{"lane", "outcome"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_reconcile_total",
			Help: "Quota reconciliations by result.",
		}, []string{"result"}),
		Visitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_active_visitors",
			Help: "Visitors with live portal state.",
		}),
	}
	m.Registry.MustRegister(
		m.PaymentPolls,
		m.Conversions,
		m.Reconciles,
		m.Visitors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

