package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/wire"
)

// TestConvergenceConcurrentWritesToSameColumn exercises two replicas each
// independently writing the same column, then exchanging their changes
// in both possible orders. Both must converge on the value stamped with
// the later HLC, regardless of delivery order.
func TestConvergenceConcurrentWritesToSameColumn(t *testing.T) {
	ctx := context.Background()
	aStore, bStore := newFakeStore(), newFakeStore()
	a, _ := newTestManager(t, aStore)
	b, _ := newTestManager(t, bStore)

	pk := []byte("row-1")
	// Each host writes its own table before recording the change; the
	// engine only calls ApplyToStore for remote changes.
	_, err := aStore.apply(ctx, []DataChange{{Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk,
		Columns: map[string]json.RawMessage{"col_0": json.RawMessage(`"from-a"`)}}}, nil, ApplyOpts{})
	require.NoError(t, err)
	require.NoError(t, a.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk, NewRow: []interface{}{"from-a"},
	}))
	_, err = bStore.apply(ctx, []DataChange{{Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk,
		Columns: map[string]json.RawMessage{"col_0": json.RawMessage(`"from-b"`)}}}, nil, ApplyOpts{})
	require.NoError(t, err)
	require.NoError(t, b.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk, NewRow: []interface{}{"from-b"},
	}))

	aChanges, err := a.GetChangesSince(ctx, b.SiteID(), nil)
	require.NoError(t, err)
	bChanges, err := b.GetChangesSince(ctx, a.SiteID(), nil)
	require.NoError(t, err)

	_, err = b.ApplyChanges(ctx, aChanges)
	require.NoError(t, err)
	_, err = a.ApplyChanges(ctx, bChanges)
	require.NoError(t, err)

	require.Equal(t, aStore.value(string(pk), "col_0"), bStore.value(string(pk), "col_0"),
		"both replicas must converge on the same winning value after exchanging changes")
}

// TestConvergenceDeleteWinsOverConcurrentOlderUpdate covers a concurrent
// delete-vs-update conflict: the delete's tombstone must block an
// earlier-HLC update from resurrecting the row on the peer.
func TestConvergenceDeleteWinsOverConcurrentOlderUpdate(t *testing.T) {
	ctx := context.Background()
	aStore, bStore := newFakeStore(), newFakeStore()
	a, _ := newTestManager(t, aStore)
	b, _ := newTestManager(t, bStore)

	pk := []byte("row-1")
	require.NoError(t, a.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk, NewRow: []interface{}{"v1"},
	}))
	aSnapshotChanges, err := a.GetChangesSince(ctx, b.SiteID(), nil)
	require.NoError(t, err)
	_, err = b.ApplyChanges(ctx, aSnapshotChanges)
	require.NoError(t, err)

	require.NoError(t, a.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeUpdate, Schema: "public", Table: "orders", PK: pk,
		OldRow: []interface{}{"v1"}, NewRow: []interface{}{"v2"},
	}))
	// b's host removes the row from its own table before recording the
	// delete; the engine only calls ApplyToStore for remote changes.
	_, err = bStore.apply(ctx, []DataChange{{Type: DataChangeDelete, Schema: "public", Table: "orders", PK: pk}}, nil, ApplyOpts{})
	require.NoError(t, err)
	require.NoError(t, b.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeDelete, Schema: "public", Table: "orders", PK: pk,
	}))

	zero := a.clock.Now()
	zero.WallTime, zero.Counter = 0, 0
	aChanges, err := a.GetChangesSince(ctx, b.SiteID(), &zero)
	require.NoError(t, err)
	bChanges, err := b.GetChangesSince(ctx, a.SiteID(), &zero)
	require.NoError(t, err)

	_, err = b.ApplyChanges(ctx, aChanges)
	require.NoError(t, err)
	_, err = a.ApplyChanges(ctx, bChanges)
	require.NoError(t, err)

	require.Equal(t, aStore.isDeleted(string(pk)), bStore.isDeleted(string(pk)),
		"both replicas must agree on whether the row is deleted")
}

// TestApplySnapshotStreamRejectsTruncatedStream covers the contract that
// a stream closed before its footer surfaces an error.
func TestApplySnapshotStreamRejectsTruncatedStream(t *testing.T) {
	ctx := context.Background()
	dstStore := newFakeStore()
	dst, _ := newTestManager(t, dstStore)

	ch := make(chan wire.SnapshotChunk, 1)
	ch <- wire.SnapshotChunk{Kind: wire.SnapshotChunkHeader, Header: &wire.SnapshotHeader{SnapshotID: "s1"}}
	close(ch)

	err := dst.ApplySnapshotStream(ctx, ch)
	require.Error(t, err)
}

// TestConvergenceColumnVersionStateMatchesByteForByte checks that two
// replicas exchanging the same concurrent write end up with identical
// column-version metadata, not merely equal application-level values:
// the winning write's HLC and PK encoding must match exactly too.
func TestConvergenceColumnVersionStateMatchesByteForByte(t *testing.T) {
	ctx := context.Background()
	aStore, bStore := newFakeStore(), newFakeStore()
	a, _ := newTestManager(t, aStore)
	b, _ := newTestManager(t, bStore)

	pk := []byte("row-1")
	require.NoError(t, a.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk, NewRow: []interface{}{"from-a"},
	}))
	require.NoError(t, b.RecordChange(ctx, DataChangeEvent{
		Type: DataChangeInsert, Schema: "public", Table: "orders", PK: pk, NewRow: []interface{}{"from-b"},
	}))

	aChanges, err := a.GetChangesSince(ctx, b.SiteID(), nil)
	require.NoError(t, err)
	bChanges, err := b.GetChangesSince(ctx, a.SiteID(), nil)
	require.NoError(t, err)

	_, err = b.ApplyChanges(ctx, aChanges)
	require.NoError(t, err)
	_, err = a.ApplyChanges(ctx, bChanges)
	require.NoError(t, err)

	aEntries, err := a.cv.ScanTableEntries(ctx, "public", "orders")
	require.NoError(t, err)
	bEntries, err := b.cv.ScanTableEntries(ctx, "public", "orders")
	require.NoError(t, err)

	if diff := cmp.Diff(aEntries, bEntries); diff != "" {
		t.Fatalf("column-version state diverged after exchanging concurrent writes (-a +b):\n%s", diff)
	}
}
