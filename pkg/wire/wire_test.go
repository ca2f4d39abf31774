package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

func testHLC(t *testing.T) hlc.HLC {
	t.Helper()
	site, err := siteid.New()
	require.NoError(t, err)
	return hlc.HLC{WallTime: 1700000000000, Counter: 3, SiteID: site}
}

func TestChangeSetJSONRoundTrip(t *testing.T) {
	h := testHLC(t)
	val, err := json.Marshal("shipped")
	require.NoError(t, err)

	cs := ChangeSet{
		SiteID:        h.SiteID.Bytes(),
		TransactionID: "tx-1",
		HLC:           h,
		Changes: []Change{
			{Kind: ChangeKindColumn, ColumnChange: &ColumnChange{
				Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: val, HLC: h,
			}},
			{Kind: ChangeKindDelete, RowDeletion: &RowDeletion{
				Schema: "public", Table: "orders", PK: []byte("pk2"), HLC: h,
			}},
		},
		SchemaMigrations: []SchemaMigration{
			{Version: 1, Schema: "public", Table: "orders", Target: "status", Kind: 1, DDL: "ALTER ...", HLC: h},
		},
	}

	data, err := json.Marshal(cs)
	require.NoError(t, err)

	var out ChangeSet
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, cs.TransactionID, out.TransactionID)
	require.Equal(t, cs.HLC, out.HLC)
	require.Len(t, out.Changes, 2)
	require.Equal(t, ChangeKindColumn, out.Changes[0].Kind)
	require.Equal(t, "status", out.Changes[0].ColumnChange.Column)
	require.Equal(t, ChangeKindDelete, out.Changes[1].Kind)
	require.Equal(t, []byte("pk2"), out.Changes[1].RowDeletion.PK)
	require.Len(t, out.SchemaMigrations, 1)
	require.Equal(t, "status", out.SchemaMigrations[0].Target)
}

func TestSnapshotChunkJSONRoundTripEachKind(t *testing.T) {
	h := testHLC(t)
	val, err := json.Marshal(42)
	require.NoError(t, err)

	chunks := []SnapshotChunk{
		{Kind: SnapshotChunkHeader, Header: &SnapshotHeader{SnapshotID: "s1", AsOfHLC: h, TableCount: 2}},
		{Kind: SnapshotChunkTableStart, TableStart: &SnapshotTableMark{Schema: "public", Table: "orders", EstimatedEntries: 10}},
		{Kind: SnapshotChunkColumnVersions, ColumnVersions: []SnapshotRow{
			{PK: []byte("pk1"), Column: "qty", Value: val, HLC: h},
			{PK: []byte("pk2"), HLC: h, Deleted: true},
		}},
		{Kind: SnapshotChunkTableEnd, TableEnd: &SnapshotTableMark{Schema: "public", Table: "orders", EntriesWritten: 2}},
		{Kind: SnapshotChunkSchemaMigration, SchemaMigration: &SchemaMigration{Version: 1, Schema: "public", Table: "orders", Kind: 1, DDL: "ALTER ...", HLC: h}},
		{Kind: SnapshotChunkFooter, Footer: &SnapshotFooter{SnapshotID: "s1", TotalTables: 1, TotalEntries: 2, TotalMigrations: 1}},
	}

	for _, c := range chunks {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		var out SnapshotChunk
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, c.Kind, out.Kind)
	}
}

func TestSnapshotRowOmitsValueForDeletedMarker(t *testing.T) {
	h := testHLC(t)
	row := SnapshotRow{PK: []byte("pk1"), HLC: h, Deleted: true}

	data, err := json.Marshal(row)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasValue := raw["value"]
	require.False(t, hasValue, "a tombstone row must not carry a value field")
	_, hasColumn := raw["column"]
	require.False(t, hasColumn)
}
