package sync

import (
	"context"
	"sort"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/metrics"
	"github.com/cuemby/crdtsync/pkg/siteid"
	"github.com/cuemby/crdtsync/pkg/wire"
)

// GetChangesSince produces changesets for peerSiteID in HLC order, each
// capped at opts.BatchSize data changes, with schema migrations attached
// to the first changeset. Pages are not aligned to origin transactions:
// TransactionID is left empty.
func (m *Manager) GetChangesSince(ctx context.Context, peerSiteID siteid.SiteID, sinceHLC *hlc.HLC) ([]wire.ChangeSet, error) {
	var changes []wire.Change
	var err error
	if sinceHLC != nil {
		changes, err = m.deltaChangesFast(ctx, peerSiteID, *sinceHLC)
	} else {
		changes, err = m.deltaChangesFull(ctx, peerSiteID)
	}
	if err != nil {
		return nil, err
	}

	migrations, err := m.deltaMigrations(ctx, peerSiteID, sinceHLC)
	if err != nil {
		return nil, err
	}

	sort.Slice(changes, func(i, j int) bool {
		return changeHLC(changes[i]).Less(changeHLC(changes[j]))
	})

	metrics.DeltaPullSize.Observe(float64(len(changes)))
	return batchChangeSets(m.siteID, changes, migrations, m.opts.BatchSize), nil
}

// deltaChangesFast scans the change log forward from sinceHLC — the fast
// path for a peer the local replica has synced with before.
func (m *Manager) deltaChangesFast(ctx context.Context, peerSiteID siteid.SiteID, sinceHLC hlc.HLC) ([]wire.Change, error) {
	entries, err := m.cl.ScanSince(ctx, sinceHLC)
	if err != nil {
		return nil, crdterrors.WrapStore("scan change log", err)
	}

	var out []wire.Change
	for _, e := range entries {
		if e.HLC.SiteID.Equal(peerSiteID) {
			continue
		}
		switch e.Kind {
		case keycodec.ChangeLogKindColumn:
			cv, err := m.cv.Get(ctx, e.Schema, e.Table, e.PK, e.Column)
			if err != nil {
				return nil, crdterrors.WrapStore("get column version", err)
			}
			if cv == nil {
				continue // superseded since the log entry was written
			}
			out = append(out, wire.Change{
				Kind: wire.ChangeKindColumn,
				ColumnChange: &wire.ColumnChange{
					Schema: e.Schema, Table: e.Table, PK: e.PK,
					Column: e.Column, Value: e.Value, HLC: e.HLC,
				},
			})
		case keycodec.ChangeLogKindDeletion:
			ts, err := m.tb.Get(ctx, e.Schema, e.Table, e.PK)
			if err != nil {
				return nil, crdterrors.WrapStore("get tombstone", err)
			}
			if ts == nil {
				continue // pruned since the log entry was written
			}
			out = append(out, wire.Change{
				Kind:        wire.ChangeKindDelete,
				RowDeletion: &wire.RowDeletion{Schema: e.Schema, Table: e.Table, PK: e.PK, HLC: e.HLC},
			})
		}
	}
	return out, nil
}

// deltaChangesFull scans every table this replica has touched for its
// current column versions and tombstones — the recovery path for a peer
// with no recorded sync state. The KV store has no
// global table index, so the scan is bounded by tablesSeen.
func (m *Manager) deltaChangesFull(ctx context.Context, peerSiteID siteid.SiteID) ([]wire.Change, error) {
	m.mu.Lock()
	tables := make([]tableKey, 0, len(m.tablesSeen))
	for t := range m.tablesSeen {
		tables = append(tables, t)
	}
	m.mu.Unlock()

	var out []wire.Change
	for _, t := range tables {
		cols, err := m.cv.ScanTableEntries(ctx, t.schema, t.table)
		if err != nil {
			return nil, crdterrors.WrapStore("scan column versions", err)
		}
		for _, c := range cols {
			if c.CV.HLC.SiteID.Equal(peerSiteID) {
				continue
			}
			out = append(out, wire.Change{
				Kind: wire.ChangeKindColumn,
				ColumnChange: &wire.ColumnChange{
					Schema: t.schema, Table: t.table, PK: c.PK,
					Column: c.Column, Value: c.CV.Value, HLC: c.CV.HLC,
				},
			})
		}

		tombs, err := m.tb.ScanTable(ctx, t.schema, t.table)
		if err != nil {
			return nil, crdterrors.WrapStore("scan tombstones", err)
		}
		for _, tb := range tombs {
			if tb.Tombstone.HLC.SiteID.Equal(peerSiteID) {
				continue
			}
			out = append(out, wire.Change{
				Kind:        wire.ChangeKindDelete,
				RowDeletion: &wire.RowDeletion{Schema: t.schema, Table: t.table, PK: tb.PK, HLC: tb.Tombstone.HLC},
			})
		}
	}
	return out, nil
}

// deltaMigrations collects schema migrations newer than sinceHLC (or all
// of them, on the recovery path) excluding ones originated by peerSiteID,
// sorted by HLC.
func (m *Manager) deltaMigrations(ctx context.Context, peerSiteID siteid.SiteID, sinceHLC *hlc.HLC) ([]wire.SchemaMigration, error) {
	all, err := m.sm.ScanAll(ctx)
	if err != nil {
		return nil, crdterrors.WrapStore("scan schema migrations", err)
	}

	var out []wire.SchemaMigration
	for _, mig := range all {
		if mig.HLC.SiteID.Equal(peerSiteID) {
			continue
		}
		if sinceHLC != nil && mig.HLC.Compare(*sinceHLC) <= 0 {
			continue
		}
		out = append(out, wire.SchemaMigration{
			Version: mig.Version, Schema: mig.Schema, Table: mig.Table, Target: mig.Target,
			Kind: int(mig.Kind), DDL: mig.DDL, HLC: mig.HLC,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HLC.Less(out[j].HLC) })
	return out, nil
}

func changeHLC(c wire.Change) hlc.HLC {
	if c.ColumnChange != nil {
		return c.ColumnChange.HLC
	}
	if c.RowDeletion != nil {
		return c.RowDeletion.HLC
	}
	return hlc.HLC{}
}

// batchChangeSets groups changes into pages of at most batchSize,
// attaching every schema migration to the first page. Each changeset's
// HLC is the max HLC of its own contents.
func batchChangeSets(localSite siteid.SiteID, changes []wire.Change, migrations []wire.SchemaMigration, batchSize int) []wire.ChangeSet {
	if len(changes) == 0 {
		if len(migrations) == 0 {
			return nil
		}
		return []wire.ChangeSet{{
			SiteID:           localSite.Bytes(),
			HLC:              migrations[len(migrations)-1].HLC,
			SchemaMigrations: migrations,
		}}
	}

	var out []wire.ChangeSet
	for i := 0; i < len(changes); i += batchSize {
		end := i + batchSize
		if end > len(changes) {
			end = len(changes)
		}
		page := changes[i:end]
		max := changeHLC(page[0])
		for _, c := range page[1:] {
			if h := changeHLC(c); max.Less(h) {
				max = h
			}
		}
		cs := wire.ChangeSet{SiteID: localSite.Bytes(), HLC: max, Changes: page}
		if i == 0 {
			cs.SchemaMigrations = migrations
			for _, mig := range migrations {
				if max.Less(mig.HLC) {
					cs.HLC = mig.HLC
					max = mig.HLC
				}
			}
		}
		out = append(out, cs)
	}
	return out
}
