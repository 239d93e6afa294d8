package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daycal_claims",
		Help: "Number of claims currently held by the store.",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daycal_subscribers",
		Help: "Number of live snapshot subscribers.",
	})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daycal_store_writes_total",
		Help: "Claim writes by operation and outcome.",
	}, []string{"op", "outcome"})

	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daycal_store_resyncs_total",
		Help: "Full snapshot re-broadcasts triggered by the resync schedule.",
	})
)
