/*
Package metrics defines and registers the sync engine's Prometheus
metrics: how many changes get applied, skipped, or generated locally,
how big the change log and tombstone set are, and how snapshot streams
and peer delta-sync are progressing.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Apply: applied/skipped/local change counts │          │
	│  │  HLC: counter value, wall-time skew         │          │
	│  │  Peers: count, per-peer delta-sync capable  │          │
	│  │  Tombstones: live count, pruned count       │          │
	│  │  Snapshot: per-peer stream progress         │          │
	│  │  Latency: apply, local write                │          │
	│  │  Delta pull: changes returned per pull      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │     Collector.Start/Stop (collector.go)     │          │
	│  │  - ticks every 15s, samples manager state   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	timer := metrics.NewTimer()
	// ... apply a change set ...
	timer.ObserveDuration(metrics.ApplyDuration)

	metrics.ChangesAppliedTotal.WithLabelValues("orders", "column").Inc()

The Collector in collector.go samples gauge-shaped state (change-log
size, tombstone counts, peer delta-sync readiness) on a ticker, since
those aren't naturally observed at the point of an individual
operation the way counters and histograms are.
*/
package metrics
