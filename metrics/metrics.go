// Package metrics exports Prometheus collectors for the store engine. Key
// constants are exported primarily for documentation reasons.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for flint metrics.
const (
	CommittedBytesTotalKey   = "flint_committed_bytes_total"
	CommittedEntriesTotalKey = "flint_committed_entries_total"
	FailedCommitsTotalKey    = "flint_failed_commits_total"
	CompactionsTotalKey      = "flint_compactions_total"
	PagesErasedTotalKey      = "flint_pages_erased_total"
	RelocatedEntriesTotalKey = "flint_relocated_entries_total"
	RecoveredEntriesTotalKey = "flint_recovered_entries_total"
	LiveBytesKey             = "flint_live_bytes"
)

// Collectors for flint metrics.
var (
	CommittedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommittedBytesTotalKey,
		Help: "Cumulative number of entry bytes durably committed to flash.",
	})
	CommittedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommittedEntriesTotalKey,
		Help: "Cumulative number of entries durably committed to flash.",
	})
	FailedCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: FailedCommitsTotalKey,
		Help: "Cumulative number of mutations aborted by a storage fault.",
	})
	CompactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CompactionsTotalKey,
		Help: "Cumulative number of page compaction cycles.",
	})
	PagesErasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: PagesErasedTotalKey,
		Help: "Cumulative number of page erasures.",
	})
	RelocatedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RelocatedEntriesTotalKey,
		Help: "Cumulative number of live entries relocated by compaction.",
	})
	RecoveredEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RecoveredEntriesTotalKey,
		Help: "Cumulative number of live entries recovered at open.",
	})
	LiveBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: LiveBytesKey,
		Help: "Current on-flash footprint of the live entry set.",
	})
)

// FlintCollectors lists every collector for registration.
func FlintCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommittedBytesTotal,
		CommittedEntriesTotal,
		FailedCommitsTotal,
		CompactionsTotal,
		PagesErasedTotal,
		RelocatedEntriesTotal,
		RecoveredEntriesTotal,
		LiveBytes,
	}
}
