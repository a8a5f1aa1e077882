package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// admissionsTotal counts admission decisions by outcome and deny reason.
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenmeter",
		Subsystem: "ratelimit",
		Name:      "admissions_total",
		Help:      "Admission decisions partitioned by outcome and deny reason.",
	}, []string{"outcome", "reason"})

	// storeErrorsTotal counts failed store round trips by phase. Every one of
	// these is a request denied by fail-closed policy.
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenmeter",
		Subsystem: "ratelimit",
		Name:      "store_errors_total",
		Help:      "Counter or config store failures partitioned by phase.",
	}, []string{"phase"})
)
