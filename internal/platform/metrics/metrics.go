// Package metrics exposes the scheduler's Prometheus instruments.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts coordinator operations by name and outcome
	// (ok, conflict, aborted, error).
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "transactions_total",
		Help:      "Coordinator operations by name and outcome.",
	}, []string{"op", "outcome"})

	// TransactionRetries counts transparent contention retries.
	TransactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "transaction_retries_total",
		Help:      "Transactions retried after serialization failures.",
	})

	// SweepProcessed counts occurrences handled by the missed-dose sweep.
	SweepProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "sweep_processed_total",
		Help:      "Occurrences processed by the missed-dose sweep, by outcome.",
	}, []string{"outcome"})

	// OccurrencesMaterialized counts occurrences created by the materializer.
	OccurrencesMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "occurrences_materialized_total",
		Help:      "Calendar occurrences created.",
	})

	// ArchiverSummaries counts daily summaries written.
	ArchiverSummaries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "archiver_summaries_total",
		Help:      "Daily summary records written by the archiver.",
	})

	// ArchiverPruned counts occurrences deleted past retention.
	ArchiverPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "archiver_pruned_total",
		Help:      "Occurrences pruned past the retention window.",
	})

	// PanicsRecovered counts handler panics turned into 500 responses.
	PanicsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dosepilot",
		Name:      "panics_recovered_total",
		Help:      "Handler panics recovered by the middleware.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
