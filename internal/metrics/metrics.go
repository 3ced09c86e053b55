// Package metrics holds the Prometheus collectors updated during a run.
// Batch commands dump them to a node-exporter textfile at exit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wikimirror"

var (
	// PagesFetched counts API pages fetched by content type.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "pages_total",
		Help:      "API result pages fetched",
	}, []string{"content"})

	// StalledPages counts pages that returned no items but carried a continuation.
	StalledPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "stalled_pages_total",
		Help:      "Empty intermediate pages with a continuation token",
	}, []string{"content"})

	// ItemsProcessed counts items by content type and outcome (ok, failed).
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "items_total",
		Help:      "Items handed to a processor",
	}, []string{"content", "outcome"})

	// Findings counts integrity findings by kind.
	Findings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "verify",
		Name:      "findings_total",
		Help:      "Integrity findings by kind",
	}, []string{"kind"})

	// ActorRenames counts in-place actor renames.
	ActorRenames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "identity",
		Name:      "renames_total",
		Help:      "Local actors renamed to follow a remote rename",
	})

	// UserLookups counts remote account lookups.
	UserLookups = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "identity",
		Name:      "lookups_total",
		Help:      "Remote user lookups issued",
	})

	// Relocations counts pages moved aside to free a title.
	Relocations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conflict",
		Name:      "relocations_total",
		Help:      "Pages relocated to a placeholder title",
	})

	// TransferAttempts counts download attempts by result (ok, checksum, error).
	TransferAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "attempts_total",
		Help:      "File download attempts by result",
	}, []string{"result"})

	// TransferBytes counts bytes written by file downloads.
	TransferBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Bytes downloaded",
	})

	// TransferDuration measures per-attempt download latency.
	TransferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "duration_seconds",
		Help:      "Download attempt latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// WriteTextfile writes the default registry to path in the text exposition
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
