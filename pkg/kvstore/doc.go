/*
Package kvstore defines the ordered key-value contract the sync engine is
built on, and ships two implementations of it.

# Architecture

	┌─────────────────────── KV CONTRACT ───────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────┐            │
	│  │                  KV                        │            │
	│  │  Get / Put / Delete — point operations     │            │
	│  │  Batch() — accumulate, then atomic Write   │            │
	│  │  Iterate(Range) — half-open [GTE, LT) scan │            │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                      │
	│     ┌───────────────┴────────────────┐                    │
	│     ▼                                 ▼                    │
	│  boltkv.Store                    memkv.Store               │
	│  (bbolt B+tree,                  (sorted map,              │
	│   on-disk, ACID)                  in-process, tests)       │
	└─────────────────────────────────────────────────────────┘

Both implementations order keys lexicographically on their raw bytes,
which is the only ordering guarantee the key codec and change log depend
on (see pkg/keycodec and pkg/metastore).

# Batches

A Batch groups puts and deletes for one atomic commit. The sync manager's
apply pipeline (pkg/sync) relies on this: Phase 3 writes tombstones,
column versions, change-log insertions/deletions, and the HLC state in a
single batch, so a crash mid-commit never leaves half of that write
visible.
*/
package kvstore
