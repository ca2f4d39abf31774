package metastore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/kvstore/memkv"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

func newHLC(t *testing.T, wall uint64) hlc.HLC {
	t.Helper()
	s, err := siteid.New()
	require.NoError(t, err)
	return hlc.HLC{WallTime: wall, SiteID: s}
}

func TestColumnVersionShouldApplyWriteLWW(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewColumnVersionStore(kv)

	h1 := newHLC(t, 100)
	apply, existing, err := s.ShouldApplyWrite(ctx, "public", "orders", []byte("pk1"), "status", h1)
	require.NoError(t, err)
	require.True(t, apply)
	require.Nil(t, existing)

	raw, _ := json.Marshal("shipped")
	require.NoError(t, s.Put(ctx, "public", "orders", []byte("pk1"), "status", ColumnVersion{HLC: h1, Value: raw}))

	// Older write must lose.
	hOlder := hlc.HLC{WallTime: 50, SiteID: h1.SiteID}
	apply, existing, err = s.ShouldApplyWrite(ctx, "public", "orders", []byte("pk1"), "status", hOlder)
	require.NoError(t, err)
	require.False(t, apply)
	require.NotNil(t, existing)

	// Newer write must win.
	hNewer := hlc.HLC{WallTime: 200, SiteID: h1.SiteID}
	apply, existing, err = s.ShouldApplyWrite(ctx, "public", "orders", []byte("pk1"), "status", hNewer)
	require.NoError(t, err)
	require.True(t, apply)
	require.NotNil(t, existing)
}

func TestColumnVersionScanRowReturnsColumnsForPK(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewColumnVersionStore(kv)
	h := newHLC(t, 100)

	raw, _ := json.Marshal("v")
	require.NoError(t, s.Put(ctx, "public", "orders", []byte("pk1"), "status", ColumnVersion{HLC: h, Value: raw}))
	require.NoError(t, s.Put(ctx, "public", "orders", []byte("pk1"), "amount", ColumnVersion{HLC: h, Value: raw}))
	require.NoError(t, s.Put(ctx, "public", "orders", []byte("pk2"), "status", ColumnVersion{HLC: h, Value: raw}))

	cols, err := s.ScanRow(ctx, "public", "orders", []byte("pk1"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"status", "amount"}, cols)
}

func TestColumnVersionScanTableEntriesDecodesPKAndColumn(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewColumnVersionStore(kv)
	h := newHLC(t, 100)

	raw, _ := json.Marshal(42)
	require.NoError(t, s.Put(ctx, "public", "orders", []byte("row-a"), "amount", ColumnVersion{HLC: h, Value: raw}))

	entries, err := s.ScanTableEntries(ctx, "public", "orders")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("row-a"), entries[0].PK)
	require.Equal(t, "amount", entries[0].Column)
}
