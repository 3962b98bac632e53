package membership

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fidelya_membership_sync_runs_total",
		Help: "Reconciliation passes, by outcome.",
	}, []string{"outcome"})

	syncCorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fidelya_membership_sync_corrections_total",
		Help: "Socio status corrections applied.",
	})

	syncRecordErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fidelya_membership_sync_record_errors_total",
		Help: "Per-record failures inside bulk passes.",
	})

	syncLastRunSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fidelya_membership_sync_last_run_seconds",
		Help: "Duration of the most recent reconciliation pass.",
	})
)
