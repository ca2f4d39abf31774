package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/kvstore"
	"github.com/cuemby/crdtsync/pkg/kvstore/memkv"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// newHLCAt builds an HLC tagged with site and wall time t, for tests
// that need to control a change's apparent age directly.
func newHLCAt(site siteid.SiteID, t time.Time) hlc.HLC {
	return hlc.HLC{WallTime: uint64(t.UnixMilli()), SiteID: site}
}

// fakeStore is a minimal in-memory "host table" used by tests to observe
// what ApplyToStoreFunc was handed.
type fakeStore struct {
	mu      stdsync.Mutex
	rows    map[string]map[string]json.RawMessage // pk -> column -> value
	deleted map[string]bool
	ddls    []SchemaChange
	calls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[string]json.RawMessage), deleted: make(map[string]bool)}
}

func (f *fakeStore) apply(_ context.Context, data []DataChange, schema []SchemaChange, _ ApplyOpts) (ApplyToStoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var res ApplyToStoreResult
	for _, dc := range data {
		key := string(dc.PK)
		switch dc.Type {
		case DataChangeDelete:
			f.deleted[key] = true
			delete(f.rows, key)
		default:
			delete(f.deleted, key)
			row, ok := f.rows[key]
			if !ok {
				row = make(map[string]json.RawMessage)
				f.rows[key] = row
			}
			for col, val := range dc.Columns {
				row[col] = val
			}
		}
		res.DataChangesApplied++
	}
	f.ddls = append(f.ddls, schema...)
	res.SchemaChangesApplied = len(schema)
	return res, nil
}

func (f *fakeStore) value(pk, col string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[pk]
	if !ok {
		return ""
	}
	raw, ok := row[col]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (f *fakeStore) isDeleted(pk string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[pk]
}

func newTestManager(t *testing.T, store *fakeStore) (*Manager, kvstore.KV) {
	t.Helper()
	kv := memkv.New()
	mgr, err := Open(context.Background(), kv, Options{ApplyToStore: store.apply})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, kv
}
