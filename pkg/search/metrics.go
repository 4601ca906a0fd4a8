package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks open sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagedsearch_sessions_active",
		Help: "Number of open search sessions",
	})

	// IntentsTotal counts processed user intents
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedsearch_intents_total",
		Help: "Total user intents processed by type",
	}, []string{"intent"})

	// PageFailures counts primary fetch failures shown to users
	PageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedsearch_page_failures_total",
		Help: "Total primary page fetches that failed and were surfaced",
	})
)
