// Package metrics holds the Prometheus collectors for catalog operations.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry all catalogdb collectors are registered with
var Registry = prometheus.NewRegistry()

var (
	StatementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogdb_statements_total",
		Help: "Total number of catalog database operations executed.",
	}, []string{"op"})

	StatementErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogdb_statement_errors_total",
		Help: "Total number of catalog database operations that failed.",
	}, []string{"op"})

	StatementDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalogdb_statement_seconds",
		Help:    "Time spent executing a catalog database operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	IngestedRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalogdb_ingested_rows_total",
		Help: "Total number of file rows inserted by catalog ingest.",
	})

	SkippedRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalogdb_skipped_rows_total",
		Help: "Total number of malformed listing lines skipped by catalog ingest.",
	})

	DuplicatesRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalogdb_duplicates_removed_total",
		Help: "Total number of duplicate overlap rows deleted.",
	})
)

func init() {
	Registry.MustRegister(
		StatementsTotal,
		StatementErrorsTotal,
		StatementDuration,
		IngestedRowsTotal,
		SkippedRowsTotal,
		DuplicatesRemovedTotal,
	)
}

// Observe records one operation outcome. Use it as
// `defer metrics.Observe("op", time.Now(), &err)`.
func Observe(op string, start time.Time, err *error) {
	StatementsTotal.WithLabelValues(op).Inc()
	StatementDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		StatementErrorsTotal.WithLabelValues(op).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter textfile collector
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
