package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/kvstore/memkv"
	"github.com/cuemby/crdtsync/pkg/sync"
)

func applyNoop(_ context.Context, _ []sync.DataChange, _ []sync.SchemaChange, _ sync.ApplyOpts) (sync.ApplyToStoreResult, error) {
	return sync.ApplyToStoreResult{}, nil
}

func TestCollectorCollectSamplesManagerStats(t *testing.T) {
	ctx := context.Background()
	mgr, err := sync.Open(ctx, memkv.New(), sync.Options{ApplyToStore: applyNoop})
	require.NoError(t, err)
	defer mgr.Close()

	require.NoError(t, mgr.RecordChange(ctx, sync.DataChangeEvent{
		Type: sync.DataChangeInsert, Schema: "public", Table: "orders", PK: []byte("pk1"),
		NewRow: []interface{}{"pending"},
	}))

	c := NewCollector(mgr)
	c.collect()

	require.GreaterOrEqual(t, testutil.ToFloat64(ChangeLogSize), 1.0)
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	mgr, err := sync.Open(ctx, memkv.New(), sync.Options{ApplyToStore: applyNoop})
	require.NoError(t, err)
	defer mgr.Close()

	c := NewCollector(mgr)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
