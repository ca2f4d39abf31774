/*
Package sync implements the CRDT replication engine used to keep an
ordered key-value table synchronized across replicas without a
coordinator.

The sync package is the replication core: it resolves concurrent writes
deterministically, tracks deletions so they replicate correctly, and
moves changes between replicas either incrementally (delta pull) or in
bulk (snapshot stream). It never talks to a network transport directly
— callers own the wire and invoke Manager methods with the bytes they
receive.

# Architecture

A replica running this package looks like:

	┌───────────────────────── REPLICA ──────────────────────────┐
	│                                                              │
	│  ┌────────────────────────────────────────────────┐        │
	│  │                  Manager                         │        │
	│  │  - RecordChange / RecordSchemaChange             │        │
	│  │  - ApplyChanges (two-phase remote apply)         │        │
	│  │  - GetChangesSince (delta pull)                  │        │
	│  │  - GetSnapshotStream / ApplySnapshotStream       │        │
	│  │  - PruneTombstones / CanDeltaSync                │        │
	│  └──────────────────┬─────────────────────────────┘        │
	│                     │                                        │
	│  ┌──────────────────▼─────────────────────────────┐        │
	│  │              pkg/hlc Clock                      │        │
	│  │  - Tick(): stamp local writes                   │        │
	│  │  - Receive(): merge remote timestamps            │        │
	│  └──────────────────┬─────────────────────────────┘        │
	│                     │                                        │
	│  ┌──────────────────▼─────────────────────────────┐        │
	│  │            pkg/metastore (cv/tb/sv/sm/pr/cl/sc) │        │
	│  │  - Column versions, tombstones, schema versions │        │
	│  │  - Change log, peer state, snapshot checkpoints │        │
	│  └──────────────────┬─────────────────────────────┘        │
	│                     │                                        │
	│  ┌──────────────────▼─────────────────────────────┐        │
	│  │              pkg/kvstore.KV                      │        │
	│  │  - bbolt on disk, or an in-memory store for tests │       │
	│  └────────────────────────────────────────────────┘        │
	└──────────────────────────────────────────────────────────┘

# Local writes

RecordChange stamps the local clock, stages column-version or tombstone
writes alongside their change-log entries in one KV batch, and
publishes a localChange event on commit. RecordSchemaChange stamps the
clock and stages a schema-version and schema-migration record, with no
change-log entry. A
deletion retires every live column version for the row and leaves a
single tombstone behind; a column write only touches the columns that
actually changed.

# Applying remote changes

ApplyChanges never writes metadata before the host's ApplyToStoreFunc
has run, so a crash mid-apply cannot leave column versions pointing at
data the host never actually wrote:

 1. Resolve every change against current metastore state (last-writer-
    wins by HLC for columns, tombstone-blocks-stale-write for
    deletions, destructive-wins for schema migrations). No writes yet.
 2. Hand the surviving changes to ApplyToStoreFunc in one call, so the
    host applies them to its own tables.
 3. Commit the metastore updates — column versions, tombstones, schema
    versions, change log, HLC state — in a single batch.

Changes whose site ID matches the local replica are its own writes
echoing back through a peer and are dropped in phase one.

# Moving changes between replicas

GetChangesSince serves an incremental pull: if the peer supplies a
last-seen HLC the change log answers directly, otherwise (a peer with
no change-log coverage, or one recovering from a pruned tombstone) a
full table scan rebuilds the same result from column versions and
tombstones.

GetSnapshotStream and ApplySnapshotStream move a full replica image as
an ordered chunk stream: a header, then per table a tableStart mark,
zero or more columnVersions chunks, and a tableEnd mark, then any schema
migrations, then a footer. Ingest checkpoints its progress after every
chunk so a crashed transfer resumes from the last completed table
instead of starting over — and resuming never re-clears data already
ingested for previously completed tables.

# Pruning

PruneTombstones drops tombstones older than Options.TombstoneTTL.
CanDeltaSync reports whether a delta pull against a given HLC is still
safe for a given peer, since a pull that predates a pruned tombstone
would silently miss a deletion; callers failing that check should fall
back to a snapshot.

# Concurrency

Manager serializes access to its in-memory table-tracking set with a
single mutex, held only across map reads and writes, never across a KV
batch commit or a call into ApplyToStoreFunc.

# Usage

	mgr, err := sync.Open(ctx, kv, sync.Options{
		ApplyToStore: hostApplyFunc,
	})
	defer mgr.Close()

	err = mgr.RecordChange(ctx, sync.DataChangeEvent{
		Type:   sync.DataChangeInsert,
		Schema: "public",
		Table:  "orders",
		PK:     pk,
		NewRow: row,
	})

	result, err := mgr.ApplyChanges(ctx, incoming)
*/
package sync
