// Package metrics defines the Prometheus metrics of wvsync and pushes them to a
// Pushgateway, since CLI runs are too short-lived to be scraped.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every wvsync metric
var Registry = prometheus.NewRegistry()

// Document client metrics.
var (
	DocumentOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wvsync",
			Name:      "document_operations_total",
			Help:      "Total number of search index operations",
		},
		[]string{"operation", "collection", "status"},
	)

	DocumentOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wvsync",
			Name:      "document_operation_duration_seconds",
			Help:      "Search index operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Batch metrics.
var (
	FlushedOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wvsync",
			Name:      "flushed_operations_total",
			Help:      "Pending operations issued at transaction flush",
		},
		[]string{"kind"}, // "index" / "update" / "delete"
	)

	DiscardedDeletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wvsync",
			Name:      "discarded_deletions_total",
			Help:      "Staged deletions never confirmed by a post-delete event",
		},
	)

	HydrationMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wvsync",
			Name:      "hydration_misses_total",
			Help:      "Search hits without a matching store record",
		},
		[]string{"collection"},
	)
)

func init() {
	Registry.MustRegister(DocumentOperationsTotal)
	Registry.MustRegister(DocumentOperationDuration)
	Registry.MustRegister(FlushedOperationsTotal)
	Registry.MustRegister(DiscardedDeletionsTotal)
	Registry.MustRegister(HydrationMissesTotal)
}

// Push sends the current metric values to a Pushgateway
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
