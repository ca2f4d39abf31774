package metastore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore/memkv"
)

func TestChangeLogScanSinceExcludesLowerBound(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewChangeLogStore(kv)
	site := newHLC(t, 0).SiteID

	raw, _ := json.Marshal("v")
	e1 := ChangeLogEntry{HLC: hlc.HLC{WallTime: 100, SiteID: site}, Kind: keycodec.ChangeLogKindColumn, Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: raw}
	e2 := ChangeLogEntry{HLC: hlc.HLC{WallTime: 200, SiteID: site}, Kind: keycodec.ChangeLogKindColumn, Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: raw}

	b := kv.Batch()
	require.NoError(t, s.PutInBatch(b, e1))
	require.NoError(t, s.PutInBatch(b, e2))
	require.NoError(t, b.Write(ctx))

	got, err := s.ScanSince(ctx, hlc.HLC{WallTime: 100, SiteID: site})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(200), got[0].HLC.WallTime)
}

func TestChangeLogScanAllReturnsEverything(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewChangeLogStore(kv)
	site := newHLC(t, 0).SiteID

	raw, _ := json.Marshal("v")
	b := kv.Batch()
	require.NoError(t, s.PutInBatch(b, ChangeLogEntry{HLC: hlc.HLC{WallTime: 100, SiteID: site}, Kind: keycodec.ChangeLogKindColumn, Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: raw}))
	require.NoError(t, s.PutInBatch(b, ChangeLogEntry{HLC: hlc.HLC{WallTime: 150, SiteID: site}, Kind: keycodec.ChangeLogKindDeletion, Schema: "public", Table: "orders", PK: []byte("pk2")}))
	require.NoError(t, b.Write(ctx))

	got, err := s.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestChangeLogDeleteInBatchRemovesSupersededEntry(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewChangeLogStore(kv)
	site := newHLC(t, 0).SiteID

	raw, _ := json.Marshal("v1")
	old := ChangeLogEntry{HLC: hlc.HLC{WallTime: 100, SiteID: site}, Kind: keycodec.ChangeLogKindColumn, Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: raw}
	b := kv.Batch()
	require.NoError(t, s.PutInBatch(b, old))
	require.NoError(t, b.Write(ctx))

	b2 := kv.Batch()
	s.DeleteInBatch(b2, old)
	raw2, _ := json.Marshal("v2")
	newer := ChangeLogEntry{HLC: hlc.HLC{WallTime: 200, SiteID: site}, Kind: keycodec.ChangeLogKindColumn, Schema: "public", Table: "orders", PK: []byte("pk1"), Column: "status", Value: raw2}
	require.NoError(t, s.PutInBatch(b2, newer))
	require.NoError(t, b2.Write(ctx))

	got, err := s.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "superseded entry must be gone, only the live one remains")
	require.Equal(t, uint64(200), got[0].HLC.WallTime)
}
