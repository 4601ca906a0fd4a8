package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReferenceLookups counts reference list lookups by the tier that served them
	ReferenceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedsearch_reference_lookups_total",
		Help: "Total reference list lookups by serving tier (memory, redis, origin)",
	}, []string{"tier"})

	// ReferenceLoadErrors counts failed origin loads by kind
	ReferenceLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedsearch_reference_load_errors_total",
		Help: "Total failed reference list loads by kind",
	}, []string{"kind"})
)
