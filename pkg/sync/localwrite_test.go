package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordChangeInsertThenUpdateOnlyTouchesChangedColumns(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr, _ := newTestManager(t, store)

	pk := []byte("order-1")
	err := mgr.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk,
		NewRow: []interface{}{"pending", 10.0},
	})
	require.NoError(t, err)

	cols, err := mgr.cv.ScanRow(ctx, "public", "orders", pk)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"col_0", "col_1"}, cols)

	err = mgr.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeUpdate, Schema: "public", Table: "orders", PK: pk,
		OldRow: []interface{}{"pending", 10.0},
		NewRow: []interface{}{"shipped", 10.0},
	})
	require.NoError(t, err)

	cv0, err := mgr.cv.Get(ctx, "public", "orders", pk, "col_0")
	require.NoError(t, err)
	require.NotNil(t, cv0)

	log, err := mgr.cl.ScanAll(ctx)
	require.NoError(t, err)
	// exactly 2 live entries: col_1 untouched by the update, col_0 superseded once
	require.Len(t, log, 2)
}

func TestRecordChangeDeleteRetiresAllColumns(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr, _ := newTestManager(t, store)
	pk := []byte("order-1")

	require.NoError(t, mgr.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk,
		NewRow: []interface{}{"pending", 10.0},
	}))
	require.NoError(t, mgr.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeDelete, Schema: "public", Table: "orders", PK: pk,
	}))

	cols, err := mgr.cv.ScanRow(ctx, "public", "orders", pk)
	require.NoError(t, err)
	require.Empty(t, cols, "deleting a row must retire every live column version")

	ts, err := mgr.tb.Get(ctx, "public", "orders", pk)
	require.NoError(t, err)
	require.NotNil(t, ts)
}

func TestRecordChangeIgnoresRemoteEcho(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr, _ := newTestManager(t, store)

	err := mgr.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: []byte("pk1"),
		NewRow: []interface{}{"x"}, Remote: true,
	})
	require.NoError(t, err)

	cols, err := mgr.cv.ScanRow(ctx, "public", "orders", []byte("pk1"))
	require.NoError(t, err)
	require.Empty(t, cols, "a Remote-flagged event must not be re-recorded")
}

func TestRecordChangeRejectsNilPK(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr, _ := newTestManager(t, store)

	err := mgr.RecordChange(ctx, DataChangeEvent{Type: DataChangeInsert, Schema: "public", Table: "orders"})
	require.Error(t, err)
}

func TestRecordSchemaChangeBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mgr, _ := newTestManager(t, store)

	err := mgr.RecordSchemaChange(ctx, SchemaChangeEvent{
		Kind: 1, Schema: "public", Table: "orders", Target: "status", DDL: "ALTER TABLE orders ADD COLUMN status TEXT",
	})
	require.NoError(t, err)

	migs, err := mgr.sm.ScanTable(ctx, "public", "orders")
	require.NoError(t, err)
	require.Len(t, migs, 1)
	require.Equal(t, uint64(1), migs[0].Version)

	err = mgr.RecordSchemaChange(ctx, SchemaChangeEvent{
		Kind: 1, Schema: "public", Table: "orders", Target: "amount", DDL: "ALTER TABLE orders ADD COLUMN amount INT",
	})
	require.NoError(t, err)

	migs, err = mgr.sm.ScanTable(ctx, "public", "orders")
	require.NoError(t, err)
	require.Len(t, migs, 2)
	require.Equal(t, uint64(2), migs[1].Version)
}
