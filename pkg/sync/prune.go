package sync

import (
	"context"
	"time"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/metastore"
	"github.com/cuemby/crdtsync/pkg/metrics"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// PruneTombstones scans every tombstone this replica knows about and
// deletes those older than opts.TombstoneTTL, returning the count
// removed. After pruning, a delta pull against an HLC
// older than the prune cutoff may miss deletions — CanDeltaSync exists
// precisely to guard against that.
func (m *Manager) PruneTombstones(ctx context.Context) (int, error) {
	m.mu.Lock()
	tables := make([]tableKey, 0, len(m.tablesSeen))
	for t := range m.tablesSeen {
		tables = append(tables, t)
	}
	m.mu.Unlock()

	cutoff := time.Now().Add(-m.opts.TombstoneTTL)
	var cutoffMillis uint64
	if ms := cutoff.UnixMilli(); ms > 0 {
		cutoffMillis = uint64(ms)
	}

	removed := 0
	for _, t := range tables {
		entries, err := m.tb.ScanTable(ctx, t.schema, t.table)
		if err != nil {
			return removed, crdterrors.WrapStore("scan tombstones", err)
		}

		var stale []metastore.TombstoneEntry
		for _, e := range entries {
			if e.Tombstone.HLC.WallTime < cutoffMillis {
				stale = append(stale, e)
			}
		}
		if len(stale) == 0 {
			continue
		}

		b := m.kv.Batch()
		for _, e := range stale {
			m.tb.DeleteInBatch(b, t.schema, t.table, e.PK)
		}
		if err := b.Write(ctx); err != nil {
			return removed, crdterrors.WrapStore("commit tombstone prune", err)
		}
		removed += len(stale)
	}

	metrics.TombstonesPrunedTotal.Add(float64(removed))
	return removed, nil
}

// CanDeltaSync reports whether a delta pull against sinceHLC is safe for
// peer: a peer-state record must exist (the replica has completed at
// least one resync with it) and sinceHLC must not predate the tombstone
// TTL, since pruning may have already dropped deletions older than that.
func (m *Manager) CanDeltaSync(ctx context.Context, peer siteid.SiteID, sinceHLC hlc.HLC) (bool, error) {
	ps, err := m.peer.Get(ctx, peer)
	if err != nil {
		return false, crdterrors.WrapStore("get peer state", err)
	}
	if ps == nil {
		return false, nil
	}
	age := time.Since(time.UnixMilli(int64(sinceHLC.WallTime)))
	return age <= m.opts.TombstoneTTL, nil
}

// MarkPeerSynced records that peer has been brought up to date as of
// ackedHLC, with canDeltaSync reflecting whether the exchange was a full
// resync (snapshot) or an incremental delta pull.
func (m *Manager) MarkPeerSynced(ctx context.Context, peer siteid.SiteID, ackedHLC hlc.HLC, canDeltaSync bool) error {
	return m.peer.Put(ctx, peer, metastore.PeerState{LastAckedHLC: ackedHLC, CanDeltaSync: canDeltaSync})
}
