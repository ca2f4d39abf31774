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
	"github.com/cuemby/crdtsync/pkg/wire"
)

// EmitFunc receives one chunk of a snapshot stream; the caller is
// responsible for getting it to the peer (network write, channel send).
// Returning an error aborts the stream.
type EmitFunc func(context.Context, wire.SnapshotChunk) error

// GetSnapshotStream emits a full snapshot: a header, then each table
// this replica has touched (tableStart, zero or more columnVersions
// chunks, tableEnd), then one schemaMigration chunk per recorded
// migration, then a footer.
func (m *Manager) GetSnapshotStream(ctx context.Context, snapshotID string, emit EmitFunc) error {
	return m.emitSnapshot(ctx, snapshotID, nil, emit)
}

// ResumeSnapshotStream re-emits the header, then only the tables not
// already in cp.CompletedTables, then schema migrations and footer,
// letting a partially-ingested peer continue from where it left off.
func (m *Manager) ResumeSnapshotStream(ctx context.Context, cp metastore.SnapshotCheckpoint, emit EmitFunc) error {
	return m.emitSnapshot(ctx, cp.SnapshotID, &cp, emit)
}

func (m *Manager) emitSnapshot(ctx context.Context, snapshotID string, resume *metastore.SnapshotCheckpoint, emit EmitFunc) error {
	m.mu.Lock()
	tables := make([]tableKey, 0, len(m.tablesSeen))
	for t := range m.tablesSeen {
		tables = append(tables, t)
	}
	m.mu.Unlock()

	migrations, err := m.sm.ScanAll(ctx)
	if err != nil {
		return crdterrors.WrapStore("scan schema migrations", err)
	}

	asOf := m.clock.Now()
	header := wire.SnapshotHeader{
		SnapshotID: snapshotID, SiteID: m.siteID.Bytes(), AsOfHLC: asOf,
		TableCount: uint64(len(tables)), MigrationCount: uint64(len(migrations)),
	}
	m.logger.Info().
		Str("snapshot_id", snapshotID).
		Int("tables", len(tables)).
		Int("migrations", len(migrations)).
		Bool("resume", resume != nil).
		Msg("emitting snapshot stream")
	if err := emit(ctx, wire.SnapshotChunk{Kind: wire.SnapshotChunkHeader, Header: &header}); err != nil {
		return err
	}

	var totalEntries uint64
	chunkSize := m.opts.ChunkSize

	for _, t := range tables {
		if resume != nil && resume.HasCompleted(t.schema, t.table) {
			continue
		}

		rows, err := m.tableSnapshotRows(ctx, t.schema, t.table)
		if err != nil {
			return err
		}

		if err := emit(ctx, wire.SnapshotChunk{
			Kind: wire.SnapshotChunkTableStart,
			TableStart: &wire.SnapshotTableMark{
				Schema: t.schema, Table: t.table, EstimatedEntries: uint64(len(rows)),
			},
		}); err != nil {
			return err
		}

		for i := 0; i < len(rows); i += chunkSize {
			end := i + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(ctx, wire.SnapshotChunk{
				Kind:           wire.SnapshotChunkColumnVersions,
				ColumnVersions: rows[i:end],
			}); err != nil {
				return err
			}
		}

		totalEntries += uint64(len(rows))
		if err := emit(ctx, wire.SnapshotChunk{
			Kind: wire.SnapshotChunkTableEnd,
			TableEnd: &wire.SnapshotTableMark{
				Schema: t.schema, Table: t.table, EntriesWritten: uint64(len(rows)),
			},
		}); err != nil {
			return err
		}
	}

	for _, mig := range migrations {
		wm := wire.SchemaMigration{
			Version: mig.Version, Schema: mig.Schema, Table: mig.Table, Target: mig.Target,
			Kind: int(mig.Kind), DDL: mig.DDL, HLC: mig.HLC,
		}
		if err := emit(ctx, wire.SnapshotChunk{Kind: wire.SnapshotChunkSchemaMigration, SchemaMigration: &wm}); err != nil {
			return err
		}
	}

	footer := wire.SnapshotFooter{
		SnapshotID: snapshotID, TotalTables: uint64(len(tables)),
		TotalEntries: totalEntries, TotalMigrations: uint64(len(migrations)),
	}
	m.logger.Info().
		Str("snapshot_id", snapshotID).
		Uint64("total_entries", totalEntries).
		Msg("snapshot stream emit complete")
	return emit(ctx, wire.SnapshotChunk{Kind: wire.SnapshotChunkFooter, Footer: &footer})
}

// tableSnapshotRows collects one table's live column versions and row
// tombstones as SnapshotRow entries; ordering beyond the underlying
// scan's is not guaranteed.
func (m *Manager) tableSnapshotRows(ctx context.Context, schema, table string) ([]wire.SnapshotRow, error) {
	cols, err := m.cv.ScanTableEntries(ctx, schema, table)
	if err != nil {
		return nil, crdterrors.WrapStore("scan column versions", err)
	}
	tombs, err := m.tb.ScanTable(ctx, schema, table)
	if err != nil {
		return nil, crdterrors.WrapStore("scan tombstones", err)
	}

	rows := make([]wire.SnapshotRow, 0, len(cols)+len(tombs))
	for _, c := range cols {
		rows = append(rows, wire.SnapshotRow{PK: c.PK, Column: c.Column, Value: c.CV.Value, HLC: c.CV.HLC})
	}
	for _, t := range tombs {
		rows = append(rows, wire.SnapshotRow{PK: t.PK, HLC: t.Tombstone.HLC, Deleted: true})
	}
	return rows, nil
}

// ingestState accumulates a snapshot stream's ingestion progress across
// chunks. Metadata is committed and checkpointed per columnVersions
// chunk; the rows for the host accumulate in pending for the whole
// table and are flushed at tableEnd.
type ingestState struct {
	snapshotID      string
	siteID          []byte
	asOfHLC         hlc.HLC
	curSchema       string
	curTable        string
	pending         []DataChange
	completedTables []metastore.TableRef
	entriesProcessed uint64
}

// ApplySnapshotStream ingests a snapshot stream chunk-by-chunk. chunks
// is closed by the caller once the stream ends or is cancelled.
func (m *Manager) ApplySnapshotStream(ctx context.Context, chunks <-chan wire.SnapshotChunk) error {
	st := &ingestState{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				m.logger.Warn().Str("snapshot_id", st.snapshotID).Msg("snapshot stream closed before footer")
				return fmt.Errorf("sync: snapshot stream closed before footer")
			}
			done, err := m.ingestChunk(ctx, st, chunk)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (m *Manager) clearReplicatedSpaces(ctx context.Context, b kvstore.Batch) error {
	for _, prefix := range [][]byte{
		[]byte(keycodec.PrefixColumnVersion),
		[]byte(keycodec.PrefixTombstone),
		[]byte(keycodec.PrefixChangeLog),
	} {
		it, err := m.kv.Iterate(ctx, kvstore.Range{GTE: prefix, LT: kvstore.PrefixUpperBound(prefix)})
		if err != nil {
			return crdterrors.WrapStore("iterate for clear", err)
		}
		for it.Next(ctx) {
			b.Delete(append([]byte(nil), it.Key()...))
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return crdterrors.WrapStore("iterate for clear", err)
		}
	}
	return nil
}

func (m *Manager) ingestChunk(ctx context.Context, st *ingestState, chunk wire.SnapshotChunk) (done bool, err error) {
	switch chunk.Kind {
	case wire.SnapshotChunkHeader:
		if chunk.Header == nil {
			return false, fmt.Errorf("sync: snapshot header chunk missing payload")
		}
		st.snapshotID = chunk.Header.SnapshotID
		st.siteID = chunk.Header.SiteID
		st.asOfHLC = chunk.Header.AsOfHLC

		existing, err := m.ck.Get(ctx, st.snapshotID)
		if err != nil {
			return false, crdterrors.WrapStore("get snapshot checkpoint", err)
		}
		if existing != nil {
			// Resuming a partially-ingested snapshot: the already-written
			// replicated space must survive, and the re-emitted stream
			// skips tables we've already completed.
			st.completedTables = append([]metastore.TableRef(nil), existing.CompletedTables...)
			st.entriesProcessed = existing.EntriesProcessed
			break
		}
		b := m.kv.Batch()
		if err := m.clearReplicatedSpaces(ctx, b); err != nil {
			return false, err
		}
		if err := b.Write(ctx); err != nil {
			return false, crdterrors.WrapStore("clear replicated spaces", err)
		}

	case wire.SnapshotChunkTableStart:
		if chunk.TableStart == nil {
			return false, fmt.Errorf("sync: tableStart chunk missing payload")
		}
		st.curSchema = chunk.TableStart.Schema
		st.curTable = chunk.TableStart.Table
		st.pending = st.pending[:0]

	case wire.SnapshotChunkColumnVersions:
		b := m.kv.Batch()
		for _, row := range chunk.ColumnVersions {
			if err := m.ingestRow(b, st.curSchema, st.curTable, row); err != nil {
				return false, err
			}
		}
		if err := b.Write(ctx); err != nil {
			return false, crdterrors.WrapStore("commit snapshot rows", err)
		}
		st.entriesProcessed += uint64(len(chunk.ColumnVersions))
		st.pending = append(st.pending, rowsToDataChanges(st.curSchema, st.curTable, chunk.ColumnVersions)...)

		if err := m.checkpointIngest(ctx, st); err != nil {
			return false, err
		}

	case wire.SnapshotChunkTableEnd:
		if err := m.flushIngest(ctx, st); err != nil {
			return false, err
		}
		st.completedTables = append(st.completedTables, metastore.TableRef{Schema: st.curSchema, Table: st.curTable})
		m.mu.Lock()
		m.markTableSeen(st.curSchema, st.curTable)
		m.mu.Unlock()
		if err := m.checkpointIngest(ctx, st); err != nil {
			return false, err
		}

	case wire.SnapshotChunkSchemaMigration:
		if chunk.SchemaMigration == nil {
			return false, nil
		}
		mig := chunk.SchemaMigration
		b := m.kv.Batch()
		sm := metastore.SchemaMigration{
			Version: mig.Version, Schema: mig.Schema, Table: mig.Table, Target: mig.Target,
			Kind: metastore.SchemaChangeKind(mig.Kind), DDL: mig.DDL, HLC: mig.HLC,
		}
		if err := m.sm.PutInBatch(b, sm); err != nil {
			return false, fmt.Errorf("sync: encode schema migration: %w", err)
		}
		sv := metastore.SchemaVersion{HLC: mig.HLC, Kind: metastore.SchemaChangeKind(mig.Kind), Version: mig.Version}
		if err := m.sv.PutInBatch(b, mig.Schema, mig.Table, mig.Target, sv); err != nil {
			return false, fmt.Errorf("sync: encode schema version: %w", err)
		}
		if err := b.Write(ctx); err != nil {
			return false, crdterrors.WrapStore("commit schema migration", err)
		}

	case wire.SnapshotChunkFooter:
		if err := m.flushIngest(ctx, st); err != nil {
			return false, err
		}
		if _, err := m.clock.Receive(st.asOfHLC); err != nil {
			return false, fmt.Errorf("sync: advance clock to snapshot hlc: %w", err)
		}
		b := m.kv.Batch()
		if err := metastore.PutHLCStateInBatch(b, m.clock.State()); err != nil {
			return false, fmt.Errorf("sync: encode hlc state: %w", err)
		}
		if err := b.Write(ctx); err != nil {
			return false, crdterrors.WrapStore("commit hlc state", err)
		}
		if st.snapshotID != "" {
			if err := m.ck.Delete(ctx, st.snapshotID); err != nil {
				return false, crdterrors.WrapStore("clear snapshot checkpoint", err)
			}
		}
		m.broker.Publish(&events.Event{
			Type:      events.EventSyncStateChange,
			Timestamp: time.Now(),
			Data:      events.SyncStateChangeData{To: events.SyncStateSynced, Progress: 1},
		})
		m.logger.Info().
			Str("snapshot_id", st.snapshotID).
			Uint64("entries_processed", st.entriesProcessed).
			Int("tables_completed", len(st.completedTables)).
			Msg("snapshot stream ingest complete")
		return true, nil
	}
	return false, nil
}

// ingestRow writes one snapshot row's column version or tombstone plus
// its change-log entry directly into b, with no existing-version
// comparison: a snapshot is authoritative for the replicated space it
// clears first.
func (m *Manager) ingestRow(b kvstore.Batch, schema, table string, row wire.SnapshotRow) error {
	if row.Deleted {
		if err := m.tb.PutInBatch(b, schema, table, row.PK, metastore.Tombstone{HLC: row.HLC}); err != nil {
			return fmt.Errorf("sync: encode tombstone: %w", err)
		}
		return m.cl.PutInBatch(b, metastore.ChangeLogEntry{
			HLC: row.HLC, Kind: keycodec.ChangeLogKindDeletion, Schema: schema, Table: table, PK: row.PK,
		})
	}
	if err := m.cv.PutInBatch(b, schema, table, row.PK, row.Column, metastore.ColumnVersion{HLC: row.HLC, Value: row.Value}); err != nil {
		return fmt.Errorf("sync: encode column version: %w", err)
	}
	return m.cl.PutInBatch(b, metastore.ChangeLogEntry{
		HLC: row.HLC, Kind: keycodec.ChangeLogKindColumn, Schema: schema, Table: table,
		PK: row.PK, Column: row.Column, Value: row.Value,
	})
}

// flushIngest hands accumulated rows for the current table to the host
// in DataFlushSize-sized batches.
func (m *Manager) flushIngest(ctx context.Context, st *ingestState) error {
	if m.opts.ApplyToStore == nil || len(st.pending) == 0 {
		st.pending = st.pending[:0]
		return nil
	}
	flushSize := m.opts.DataFlushSize
	for i := 0; i < len(st.pending); i += flushSize {
		end := i + flushSize
		if end > len(st.pending) {
			end = len(st.pending)
		}
		if _, err := m.opts.ApplyToStore(ctx, st.pending[i:end], nil, ApplyOpts{Remote: true}); err != nil {
			return &crdterrors.ApplyCallbackError{Err: err}
		}
	}
	st.pending = st.pending[:0]
	return nil
}

// checkpointIngest persists ingest progress outside the replicated-space
// batch, so a resumed ingest can pick up after a crash.
func (m *Manager) checkpointIngest(ctx context.Context, st *ingestState) error {
	if st.snapshotID == "" {
		return nil
	}
	cp := metastore.SnapshotCheckpoint{
		SnapshotID: st.snapshotID, SiteID: st.siteID, HLC: st.asOfHLC,
		CompletedTables:  append([]metastore.TableRef(nil), st.completedTables...),
		EntriesProcessed: st.entriesProcessed,
		CreatedAt:        time.Now(),
	}
	if err := m.ck.Put(ctx, cp); err != nil {
		return crdterrors.WrapStore("put snapshot checkpoint", err)
	}
	return nil
}

func rowsToDataChanges(schema, table string, rows []wire.SnapshotRow) []DataChange {
	byPK := make(map[string]*DataChange)
	var order []string
	for _, row := range rows {
		k := string(row.PK)
		dc, ok := byPK[k]
		if !ok {
			dc = &DataChange{Schema: schema, Table: table, PK: row.PK}
			byPK[k] = dc
			order = append(order, k)
		}
		if row.Deleted {
			dc.Type = DataChangeDelete
			dc.Columns = nil
			continue
		}
		if dc.Type != DataChangeDelete {
			dc.Type = DataChangeInsert
			if dc.Columns == nil {
				dc.Columns = make(map[string]json.RawMessage)
			}
			dc.Columns[row.Column] = row.Value
		}
	}
	out := make([]DataChange, 0, len(order))
	for _, k := range order {
		out = append(out, *byPK[k])
	}
	return out
}
