package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/events"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
	"github.com/cuemby/crdtsync/pkg/metastore"
	"github.com/cuemby/crdtsync/pkg/metrics"
	"github.com/cuemby/crdtsync/pkg/wire"
)

// RecordChange implements the local write pipeline. A
// remote-originated event is ignored: the apply pipeline has already
// recorded its metadata for it.
func (m *Manager) RecordChange(ctx context.Context, ev DataChangeEvent) error {
	if ev.Remote {
		return nil
	}
	if ev.PK == nil {
		return fmt.Errorf("sync: RecordChange: %w", crdterrors.ErrKeyNotFound)
	}

	timer := metrics.NewTimer()
	h, err := m.clock.Tick()
	if err != nil {
		return fmt.Errorf("sync: tick clock: %w", err)
	}

	b := m.kv.Batch()
	var changes []wire.Change

	switch ev.Type {
	case DataChangeDelete:
		cs, err := m.stageRowDeletion(ctx, b, h, ev.Schema, ev.Table, ev.PK)
		if err != nil {
			return err
		}
		changes = cs
	case DataChangeInsert, DataChangeUpdate:
		cs, err := m.stageColumnWrites(ctx, b, h, ev)
		if err != nil {
			return err
		}
		changes = cs
	default:
		return fmt.Errorf("sync: RecordChange: unknown change type %q", ev.Type)
	}

	if len(changes) == 0 {
		return nil
	}

	if err := metastore.PutHLCStateInBatch(b, m.clock.State()); err != nil {
		return fmt.Errorf("sync: encode hlc state: %w", err)
	}

	if err := b.Write(ctx); err != nil {
		return crdterrors.WrapStore("commit local write batch", err)
	}

	m.mu.Lock()
	m.markTableSeen(ev.Schema, ev.Table)
	m.mu.Unlock()

	metrics.LocalChangesTotal.WithLabelValues(ev.Table).Inc()
	timer.ObserveDuration(metrics.LocalWriteDuration)

	m.broker.Publish(&events.Event{
		Type:      events.EventLocalChange,
		Timestamp: time.Now(),
		Data: events.LocalChangeData{
			Schema:      ev.Schema,
			Table:       ev.Table,
			ChangeCount: len(changes),
		},
	})
	return nil
}

// stageRowDeletion writes a tombstone, a deletion change-log entry, and
// retires every live column version (and its change-log entry) for the
// row, all in b.
func (m *Manager) stageRowDeletion(ctx context.Context, b kvstore.Batch, h hlc.HLC, schema, table string, pk []byte) ([]wire.Change, error) {
	columns, err := m.cv.ScanRow(ctx, schema, table, pk)
	if err != nil {
		return nil, crdterrors.WrapStore("scan row column versions", err)
	}
	for _, col := range columns {
		existing, err := m.cv.Get(ctx, schema, table, pk, col)
		if err != nil {
			return nil, crdterrors.WrapStore("get column version", err)
		}
		if existing != nil {
			m.cl.DeleteInBatch(b, metastore.ChangeLogEntry{
				HLC: existing.HLC, Kind: keycodec.ChangeLogKindColumn,
				Schema: schema, Table: table, PK: pk, Column: col,
			})
		}
		m.cv.DeleteInBatch(b, schema, table, pk, col)
	}

	if err := m.tb.PutInBatch(b, schema, table, pk, metastore.Tombstone{HLC: h}); err != nil {
		return nil, fmt.Errorf("sync: encode tombstone: %w", err)
	}
	if err := m.cl.PutInBatch(b, metastore.ChangeLogEntry{
		HLC: h, Kind: keycodec.ChangeLogKindDeletion, Schema: schema, Table: table, PK: pk,
	}); err != nil {
		return nil, fmt.Errorf("sync: encode change-log entry: %w", err)
	}

	return []wire.Change{{
		Kind: wire.ChangeKindDelete,
		RowDeletion: &wire.RowDeletion{
			Schema: schema, Table: table, PK: pk, HLC: h,
		},
	}}, nil
}

// stageColumnWrites stages one column version + change-log entry per
// changed column (every column, for an insert) in b.
func (m *Manager) stageColumnWrites(ctx context.Context, b kvstore.Batch, h hlc.HLC, ev DataChangeEvent) ([]wire.Change, error) {
	names := m.resolveColumnNames(ctx, ev.Schema, ev.Table, len(ev.NewRow))

	var changes []wire.Change
	for i, newVal := range ev.NewRow {
		if ev.Type == DataChangeUpdate && i < len(ev.OldRow) && rowValuesEqual(ev.OldRow[i], newVal) {
			continue
		}
		column := names[i]

		valueJSON, err := json.Marshal(newVal)
		if err != nil {
			return nil, fmt.Errorf("sync: encode column value: %w", err)
		}

		existing, err := m.cv.Get(ctx, ev.Schema, ev.Table, ev.PK, column)
		if err != nil {
			return nil, crdterrors.WrapStore("get column version", err)
		}
		if existing != nil {
			m.cl.DeleteInBatch(b, metastore.ChangeLogEntry{
				HLC: existing.HLC, Kind: keycodec.ChangeLogKindColumn,
				Schema: ev.Schema, Table: ev.Table, PK: ev.PK, Column: column,
			})
		}

		if err := m.cv.PutInBatch(b, ev.Schema, ev.Table, ev.PK, column,
			metastore.ColumnVersion{HLC: h, Value: valueJSON}); err != nil {
			return nil, fmt.Errorf("sync: encode column version: %w", err)
		}
		if err := m.cl.PutInBatch(b, metastore.ChangeLogEntry{
			HLC: h, Kind: keycodec.ChangeLogKindColumn,
			Schema: ev.Schema, Table: ev.Table, PK: ev.PK, Column: column, Value: valueJSON,
		}); err != nil {
			return nil, fmt.Errorf("sync: encode change-log entry: %w", err)
		}

		changes = append(changes, wire.Change{
			Kind: wire.ChangeKindColumn,
			ColumnChange: &wire.ColumnChange{
				Schema: ev.Schema, Table: ev.Table, PK: ev.PK,
				Column: column, Value: valueJSON, HLC: h,
			},
		})
	}
	return changes, nil
}

// resolveColumnNames uses the host schema lookup to name columns, or
// falls back to col_<index> when unavailable.
func (m *Manager) resolveColumnNames(ctx context.Context, schema, table string, n int) []string {
	names := make([]string, n)
	if m.opts.SchemaLookup != nil {
		if info, ok := m.opts.SchemaLookup(ctx, schema, table); ok && len(info.Columns) >= n {
			for i := 0; i < n; i++ {
				names[i] = info.Columns[i].Name
			}
			return names
		}
	}
	for i := range names {
		names[i] = fmt.Sprintf("col_%d", i)
	}
	return names
}

func rowValuesEqual(a, b interface{}) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}

// RecordSchemaChange handles a local DDL event analogously to a data
// change: bump the monotonic schema version, persist the migration and
// HLC state in one batch, and emit an event.
func (m *Manager) RecordSchemaChange(ctx context.Context, ev SchemaChangeEvent) error {
	h, err := m.clock.Tick()
	if err != nil {
		return fmt.Errorf("sync: tick clock: %w", err)
	}

	migrations, err := m.sm.ScanTable(ctx, ev.Schema, ev.Table)
	if err != nil {
		return crdterrors.WrapStore("scan schema migrations", err)
	}
	version := uint64(len(migrations)) + 1

	b := m.kv.Batch()
	sv := metastore.SchemaVersion{HLC: h, Kind: ev.Kind, Version: version}
	if err := m.sv.PutInBatch(b, ev.Schema, ev.Table, ev.Target, sv); err != nil {
		return fmt.Errorf("sync: encode schema version: %w", err)
	}
	mig := metastore.SchemaMigration{
		Version: version, Schema: ev.Schema, Table: ev.Table, Target: ev.Target,
		Kind: ev.Kind, DDL: ev.DDL, HLC: h,
	}
	if err := m.sm.PutInBatch(b, mig); err != nil {
		return fmt.Errorf("sync: encode schema migration: %w", err)
	}
	if err := metastore.PutHLCStateInBatch(b, m.clock.State()); err != nil {
		return fmt.Errorf("sync: encode hlc state: %w", err)
	}
	if err := b.Write(ctx); err != nil {
		return crdterrors.WrapStore("commit schema change batch", err)
	}

	m.broker.Publish(&events.Event{
		Type:      events.EventLocalChange,
		Timestamp: time.Now(),
		Data: events.LocalChangeData{
			Schema:      ev.Schema,
			Table:       ev.Table,
			ChangeCount: 1,
		},
	})
	return nil
}
