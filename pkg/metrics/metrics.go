package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ChangesAppliedTotal counts remote changes accepted by the apply
	// pipeline, by table and change kind (column/delete).
	ChangesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtsync_changes_applied_total",
			Help: "Total number of remote changes applied, by table and kind",
		},
		[]string{"table", "kind"},
	)

	// ChangesSkippedTotal counts remote changes not applied (echo,
	// duplicate, stale, LWW conflict, tombstone blocking), by table and
	// reason.
	ChangesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtsync_changes_skipped_total",
			Help: "Total number of remote changes skipped, by table and reason",
		},
		[]string{"table", "reason"},
	)

	// LocalChangesTotal counts locally originated changes committed, by
	// table.
	LocalChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crdtsync_local_changes_total",
			Help: "Total number of local changes committed, by table",
		},
		[]string{"table"},
	)

	// ChangeLogSize is the current number of live change-log entries.
	ChangeLogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtsync_change_log_size",
			Help: "Current number of live change-log entries",
		},
	)

	// HLCCounter is the current HLC logical counter value, useful for
	// spotting counter pressure before it overflows.
	HLCCounter = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtsync_hlc_counter",
			Help: "Current HLC logical counter value",
		},
	)

	// HLCWallTimeSkewSeconds is the difference between the HLC's wall
	// component and local physical time, signed: positive means the HLC
	// is running ahead of the local clock.
	HLCWallTimeSkewSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtsync_hlc_wall_skew_seconds",
			Help: "Difference between HLC wall time and local physical time, in seconds",
		},
	)

	// PeersTotal is the number of peers this replica has recorded sync
	// state for.
	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crdtsync_peers_total",
			Help: "Total number of peers with recorded sync state",
		},
	)

	// PeerCanDeltaSync tracks, per peer, whether delta sync is available
	// (1) or a full resync is still required (0).
	PeerCanDeltaSync = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crdtsync_peer_can_delta_sync",
			Help: "Whether delta sync is available for a peer (1) or a full resync is required (0)",
		},
		[]string{"peer_site_id"},
	)

	// TombstonesTotal is the current number of live tombstones, by table.
	TombstonesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crdtsync_tombstones_total",
			Help: "Current number of live tombstones, by table",
		},
		[]string{"table"},
	)

	// TombstonesPrunedTotal counts tombstones removed once they aged
	// past TombstoneTTL.
	TombstonesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crdtsync_tombstones_pruned_total",
			Help: "Total number of tombstones pruned after TTL expiry",
		},
	)

	// SnapshotProgress is the fraction (0..1) complete of an in-flight
	// snapshot stream, per peer.
	SnapshotProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crdtsync_snapshot_progress",
			Help: "Fraction complete of an in-flight snapshot stream, by peer",
		},
		[]string{"peer_site_id"},
	)

	// ApplyDuration times the two-phase apply pipeline per change-set
	// commit.
	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtsync_apply_duration_seconds",
			Help:    "Time taken to apply one change set in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LocalWriteDuration times the local write pipeline per committed
	// transaction.
	LocalWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtsync_local_write_duration_seconds",
			Help:    "Time taken to commit a local write transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeltaPullSize is the number of changes returned per delta pull.
	DeltaPullSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crdtsync_delta_pull_size",
			Help:    "Number of changes returned per delta pull",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChangesAppliedTotal,
		ChangesSkippedTotal,
		LocalChangesTotal,
		ChangeLogSize,
		HLCCounter,
		HLCWallTimeSkewSeconds,
		PeersTotal,
		PeerCanDeltaSync,
		TombstonesTotal,
		TombstonesPrunedTotal,
		SnapshotProgress,
		ApplyDuration,
		LocalWriteDuration,
		DeltaPullSize,
	)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
