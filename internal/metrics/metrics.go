package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StatementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsetup_statements_total",
		Help: "Total number of script statements executed, by outcome status.",
	}, []string{"status"})

	StatementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dbsetup_statement_seconds",
		Help:    "Time spent executing a single script statement.",
		Buckets: prometheus.DefBuckets,
	})

	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsetup_refresh_total",
		Help: "Total number of data refreshes, by result.",
	}, []string{"result"})

	RefreshStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbsetup_refresh_step_seconds",
		Help:    "Time spent on one refresh step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	IntrospectionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dbsetup_introspection_errors_total",
		Help: "Total number of schemas whose table listing failed.",
	})
)
