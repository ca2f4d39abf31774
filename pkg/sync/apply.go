package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/events"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/metastore"
	"github.com/cuemby/crdtsync/pkg/metrics"
	"github.com/cuemby/crdtsync/pkg/wire"
)

// resolveOutcome is what Phase 1 decided about one incoming change.
type resolveOutcome int

const (
	// resolveApplied queues the change for Phase 2/3.
	resolveApplied resolveOutcome = iota
	// resolveSkipped means the change was an echo, already-seen replay,
	// or blocked by a tombstone — nothing to report as a conflict.
	resolveSkipped
	// resolveConflict means a concurrent write lost to LWW: the local
	// value is already the winner, but a concurrent write did arrive,
	// so it counts as a conflict rather than a skip.
	resolveConflict
)

// resolvedColumn is a column write that survived Phase 1 resolution and
// is queued for Phase 2/3.
type resolvedColumn struct {
	schema, table, column string
	pk                    []byte
	value                 []byte
	hlc                   hlc.HLC
	existing              *metastore.ColumnVersion // nil if none
	siteID                string
}

// resolvedDelete is a row deletion that survived Phase 1 resolution.
type resolvedDelete struct {
	schema, table string
	pk            []byte
	hlc           hlc.HLC
	siteID        string
}

// resolvedMigration is a schema migration queued for application.
type resolvedMigration struct {
	mig metastore.SchemaMigration
}

// ApplyChanges runs the two-phase remote apply pipeline over a batch of
// incoming changesets from one exchange with a peer.
func (m *Manager) ApplyChanges(ctx context.Context, changesets []wire.ChangeSet) (ApplyResult, error) {
	var result ApplyResult
	var columns []resolvedColumn
	var deletes []resolvedDelete
	var migrations []resolvedMigration
	timer := metrics.NewTimer()

	// Phase 1 — resolve. No metadata writes happen here.
	for _, cs := range changesets {
		if _, err := m.clock.Receive(cs.HLC); err != nil {
			m.logger.Warn().
				Str("peer_site", cs.HLC.SiteID.String()).
				Str("remote_hlc", cs.HLC.String()).
				Err(err).
				Msg("rejected changeset: clock skew exceeds allowed drift")
			return result, fmt.Errorf("sync: receive changeset hlc: %w", err)
		}
		result.Transactions++

		for _, change := range cs.Changes {
			outcome, err := m.resolveChange(ctx, change, &columns, &deletes)
			if err != nil {
				return result, err
			}
			switch outcome {
			case resolveSkipped:
				result.Skipped++
			case resolveConflict:
				result.Conflicts++
			}
		}

		for _, mig := range cs.SchemaMigrations {
			apply, err := m.resolveSchemaMigration(ctx, mig)
			if err != nil {
				return result, err
			}
			if apply {
				migrations = append(migrations, resolvedMigration{mig: metastore.SchemaMigration{
					Version: mig.Version, Schema: mig.Schema, Table: mig.Table, Target: mig.Target,
					Kind: metastore.SchemaChangeKind(mig.Kind), DDL: mig.DDL, HLC: mig.HLC,
				}})
			}
		}
	}
	result.Applied = len(columns) + len(deletes)

	if result.Applied == 0 && len(migrations) == 0 {
		return result, nil
	}

	// Phase 2 — apply to user data. The engine never touches user tables
	// directly; this is the single side-effecting call.
	if m.opts.ApplyToStore != nil {
		dataChanges := buildDataChanges(columns, deletes)
		schemaChanges := buildSchemaChanges(migrations)
		if _, err := m.opts.ApplyToStore(ctx, dataChanges, schemaChanges, ApplyOpts{Remote: true}); err != nil {
			return result, &crdterrors.ApplyCallbackError{Err: err}
		}
	}

	// Phase 3 — commit metadata in one batch. If the process dies before
	// this point, the peer resends the same changes next exchange and
	// resolution reproduces the same LWW outcome: replays are safe.
	b := m.kv.Batch()
	for _, c := range columns {
		if c.existing != nil {
			m.cl.DeleteInBatch(b, metastore.ChangeLogEntry{
				HLC: c.existing.HLC, Kind: keycodec.ChangeLogKindColumn,
				Schema: c.schema, Table: c.table, PK: c.pk, Column: c.column,
			})
		}
		if err := m.cv.PutInBatch(b, c.schema, c.table, c.pk, c.column,
			metastore.ColumnVersion{HLC: c.hlc, Value: c.value}); err != nil {
			return result, fmt.Errorf("sync: encode column version: %w", err)
		}
		if err := m.cl.PutInBatch(b, metastore.ChangeLogEntry{
			HLC: c.hlc, Kind: keycodec.ChangeLogKindColumn,
			Schema: c.schema, Table: c.table, PK: c.pk, Column: c.column, Value: c.value,
		}); err != nil {
			return result, fmt.Errorf("sync: encode change-log entry: %w", err)
		}
		m.mu.Lock()
		m.markTableSeen(c.schema, c.table)
		m.mu.Unlock()
	}

	for _, d := range deletes {
		existingCols, err := m.cv.ScanRow(ctx, d.schema, d.table, d.pk)
		if err != nil {
			return result, crdterrors.WrapStore("scan row for delete", err)
		}
		for _, col := range existingCols {
			cv, err := m.cv.Get(ctx, d.schema, d.table, d.pk, col)
			if err != nil {
				return result, crdterrors.WrapStore("get column version", err)
			}
			if cv != nil {
				m.cl.DeleteInBatch(b, metastore.ChangeLogEntry{
					HLC: cv.HLC, Kind: keycodec.ChangeLogKindColumn,
					Schema: d.schema, Table: d.table, PK: d.pk, Column: col,
				})
			}
			m.cv.DeleteInBatch(b, d.schema, d.table, d.pk, col)
		}
		if err := m.tb.PutInBatch(b, d.schema, d.table, d.pk, metastore.Tombstone{HLC: d.hlc}); err != nil {
			return result, fmt.Errorf("sync: encode tombstone: %w", err)
		}
		if err := m.cl.PutInBatch(b, metastore.ChangeLogEntry{
			HLC: d.hlc, Kind: keycodec.ChangeLogKindDeletion, Schema: d.schema, Table: d.table, PK: d.pk,
		}); err != nil {
			return result, fmt.Errorf("sync: encode change-log entry: %w", err)
		}
		m.mu.Lock()
		m.markTableSeen(d.schema, d.table)
		m.mu.Unlock()
	}

	for _, rm := range migrations {
		sv := metastore.SchemaVersion{HLC: rm.mig.HLC, Kind: rm.mig.Kind, Version: rm.mig.Version}
		if err := m.sv.PutInBatch(b, rm.mig.Schema, rm.mig.Table, rm.mig.Target, sv); err != nil {
			return result, fmt.Errorf("sync: encode schema version: %w", err)
		}
		if err := m.sm.PutInBatch(b, rm.mig); err != nil {
			return result, fmt.Errorf("sync: encode schema migration: %w", err)
		}
	}

	if err := metastore.PutHLCStateInBatch(b, m.clock.State()); err != nil {
		return result, fmt.Errorf("sync: encode hlc state: %w", err)
	}

	if err := b.Write(ctx); err != nil {
		return result, crdterrors.WrapStore("commit apply batch", err)
	}

	for _, c := range columns {
		metrics.ChangesAppliedTotal.WithLabelValues(c.table, "column").Inc()
	}
	for _, d := range deletes {
		metrics.ChangesAppliedTotal.WithLabelValues(d.table, "delete").Inc()
	}
	timer.ObserveDuration(metrics.ApplyDuration)

	m.logger.Info().
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Int("conflicts", result.Conflicts).
		Int("transactions", result.Transactions).
		Msg("applied remote changesets")

	m.emitRemoteChangeEvents(columns, deletes, result)
	return result, nil
}

// resolveChange performs Phase 1 resolution for a single change. No
// store writes happen here — only reads against column-version and
// tombstone state.
func (m *Manager) resolveChange(ctx context.Context, change wire.Change, columns *[]resolvedColumn, deletes *[]resolvedDelete) (resolveOutcome, error) {
	switch change.Kind {
	case wire.ChangeKindDelete:
		rd := change.RowDeletion
		if rd == nil {
			return resolveSkipped, nil
		}
		if rd.HLC.SiteID.Equal(m.siteID) {
			metrics.ChangesSkippedTotal.WithLabelValues(rd.Table, "echo").Inc()
			return resolveSkipped, nil
		}
		ts, err := m.tb.Get(ctx, rd.Schema, rd.Table, rd.PK)
		if err != nil {
			return resolveSkipped, crdterrors.WrapStore("get tombstone", err)
		}
		if ts != nil && ts.HLC.GreaterEqual(rd.HLC) {
			metrics.ChangesSkippedTotal.WithLabelValues(rd.Table, "stale").Inc()
			return resolveSkipped, nil
		}
		*deletes = append(*deletes, resolvedDelete{
			schema: rd.Schema, table: rd.Table, pk: rd.PK, hlc: rd.HLC,
			siteID: rd.HLC.SiteID.String(),
		})
		return resolveApplied, nil

	case wire.ChangeKindColumn:
		cc := change.ColumnChange
		if cc == nil {
			return resolveSkipped, nil
		}
		if cc.HLC.SiteID.Equal(m.siteID) {
			metrics.ChangesSkippedTotal.WithLabelValues(cc.Table, "echo").Inc()
			return resolveSkipped, nil
		}

		apply, existing, err := m.cv.ShouldApplyWrite(ctx, cc.Schema, cc.Table, cc.PK, cc.Column, cc.HLC)
		if err != nil {
			return resolveSkipped, crdterrors.WrapStore("check column version", err)
		}
		if !apply {
			if existing != nil && cc.HLC.Compare(existing.HLC) == 0 {
				// Exact replay of the write this replica already holds —
				// not a concurrent write, just a resend.
				metrics.ChangesSkippedTotal.WithLabelValues(cc.Table, "duplicate").Inc()
				return resolveSkipped, nil
			}
			m.broker.Publish(&events.Event{
				Type:      events.EventConflictResolved,
				Timestamp: time.Now(),
				Data: events.ConflictResolvedData{
					Schema: cc.Schema, Table: cc.Table, Column: cc.Column,
					WinningHLC: localHLCString(existing),
					LosingHLC:  cc.HLC.String(),
					Blocked:    false,
				},
			})
			metrics.ChangesSkippedTotal.WithLabelValues(cc.Table, "conflict").Inc()
			m.logger.Debug().
				Str("schema", cc.Schema).Str("table", cc.Table).Str("column", cc.Column).
				Str("winning_hlc", localHLCString(existing)).Str("losing_hlc", cc.HLC.String()).
				Msg("incoming write lost to LWW")
			return resolveConflict, nil
		}

		blocked, err := m.tb.ShouldBlock(ctx, cc.Schema, cc.Table, cc.PK, cc.HLC, m.opts.AllowResurrection)
		if err != nil {
			return resolveSkipped, crdterrors.WrapStore("check tombstone", err)
		}
		if blocked {
			metrics.ChangesSkippedTotal.WithLabelValues(cc.Table, "tombstoned").Inc()
			return resolveSkipped, nil
		}

		*columns = append(*columns, resolvedColumn{
			schema: cc.Schema, table: cc.Table, column: cc.Column,
			pk: cc.PK, value: cc.Value, hlc: cc.HLC, existing: existing,
			siteID: cc.HLC.SiteID.String(),
		})
		return resolveApplied, nil

	default:
		return resolveSkipped, nil
	}
}

// resolveSchemaMigration compares (schema, table, schemaVersion) against
// the stored schema-version record and reports whether the migration
// should be queued for application.
func (m *Manager) resolveSchemaMigration(ctx context.Context, mig wire.SchemaMigration) (bool, error) {
	kind := metastore.SchemaChangeKind(mig.Kind)
	incoming := metastore.SchemaVersion{HLC: mig.HLC, Kind: kind, Version: mig.Version}
	return m.sv.ShouldApply(ctx, mig.Schema, mig.Table, mig.Target, incoming)
}

func localHLCString(cv *metastore.ColumnVersion) string {
	if cv == nil {
		return ""
	}
	return cv.HLC.String()
}

// buildDataChanges groups resolved column writes by row into update
// DataChanges (one per distinct PK, columns merged) and appends one
// delete DataChange per resolved row deletion.
func buildDataChanges(columns []resolvedColumn, deletes []resolvedDelete) []DataChange {
	type rowKey struct{ schema, table, pk string }
	byRow := make(map[rowKey]*DataChange)
	var order []rowKey

	for _, c := range columns {
		k := rowKey{c.schema, c.table, string(c.pk)}
		dc, ok := byRow[k]
		if !ok {
			dc = &DataChange{
				Type: DataChangeUpdate, Schema: c.schema, Table: c.table, PK: c.pk,
				Columns: make(map[string]json.RawMessage),
			}
			byRow[k] = dc
			order = append(order, k)
		}
		dc.Columns[c.column] = c.value
	}

	out := make([]DataChange, 0, len(order)+len(deletes))
	for _, k := range order {
		out = append(out, *byRow[k])
	}
	for _, d := range deletes {
		out = append(out, DataChange{Type: DataChangeDelete, Schema: d.schema, Table: d.table, PK: d.pk})
	}
	return out
}

func buildSchemaChanges(migrations []resolvedMigration) []SchemaChange {
	out := make([]SchemaChange, 0, len(migrations))
	for _, rm := range migrations {
		out = append(out, SchemaChange{
			Type:   schemaChangeKindLabel(rm.mig.Kind),
			Schema: rm.mig.Schema,
			Table:  rm.mig.Table,
			DDL:    rm.mig.DDL,
		})
	}
	return out
}

func schemaChangeKindLabel(k metastore.SchemaChangeKind) string {
	switch k {
	case metastore.SchemaChangeColumn:
		return "column"
	case metastore.SchemaChangeTable:
		return "table"
	case metastore.SchemaChangeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// emitRemoteChangeEvents groups applied changes by originating site and
// publishes one EventRemoteChange per site.
func (m *Manager) emitRemoteChangeEvents(columns []resolvedColumn, deletes []resolvedDelete, result ApplyResult) {
	bySite := make(map[string]*events.RemoteChangeData)
	order := make([]string, 0, 4)

	touch := func(site string) *events.RemoteChangeData {
		d, ok := bySite[site]
		if !ok {
			d = &events.RemoteChangeData{PeerSiteID: site}
			bySite[site] = d
			order = append(order, site)
		}
		return d
	}

	for _, c := range columns {
		touch(c.siteID).Applied++
	}
	for _, d := range deletes {
		touch(d.siteID).Applied++
	}
	if len(order) == 0 {
		return
	}

	sort.Strings(order)
	for _, site := range order {
		m.broker.Publish(&events.Event{
			Type:      events.EventRemoteChange,
			Timestamp: time.Now(),
			Data:      *bySite[site],
		})
	}
}
