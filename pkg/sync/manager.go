package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/events"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/kvstore"
	"github.com/cuemby/crdtsync/pkg/log"
	"github.com/cuemby/crdtsync/pkg/metastore"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// Options configures a Manager. Only ApplyToStore is required; the rest
// have defaults set by a constructor-argument convention rather than a
// config file reader.
type Options struct {
	// SiteID overrides the persisted/generated site ID, for hosts that
	// own identity assignment themselves.
	SiteID *siteid.SiteID

	// TombstoneTTL bounds how long a tombstone survives before pruning.
	// Also gates CanDeltaSync.
	TombstoneTTL time.Duration
	// AllowResurrection controls whether a write with an HLC after a
	// tombstone's HLC may resurrect the row.
	AllowResurrection bool
	// BatchSize caps the number of data changes per emitted ChangeSet.
	BatchSize int
	// ChunkSize caps entries per columnVersions snapshot chunk.
	ChunkSize int
	// DataFlushSize caps the number of rows flushed to ApplyToStore per
	// call during snapshot ingest.
	DataFlushSize int

	// ApplyToStore mutates user tables for remote changes.
	ApplyToStore ApplyToStoreFunc
	// SchemaLookup translates row-array indices to column names. Optional.
	SchemaLookup SchemaLookupFunc
}

func (o *Options) setDefaults() {
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = 14 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 200
	}
	if o.DataFlushSize <= 0 {
		o.DataFlushSize = 200
	}
}

// Manager is the sync engine's core: local write recording, two-phase
// remote apply, delta pull, and snapshot stream emit/ingest, all over
// one ordered KV store.
//
// A single mutex guards the in-memory set of tables seen; it is never
// held across a KV batch write or an ApplyToStore call. The HLC clock
// has its own lock.
type Manager struct {
	mu stdsync.Mutex

	kv     kvstore.KV
	clock  *hlc.Clock
	siteID siteid.SiteID
	opts   Options
	logger zerolog.Logger
	broker *events.Broker

	cv   *metastore.ColumnVersionStore
	tb   *metastore.TombstoneStore
	sv   *metastore.SchemaVersionStore
	sm   *metastore.SchemaMigrationStore
	peer *metastore.PeerStateStore
	cl   *metastore.ChangeLogStore
	ck   *metastore.CheckpointStore

	tablesSeen map[tableKey]struct{}
}

type tableKey struct {
	schema, table string
}

// Open creates or restores a Manager over kv: site identity and HLC
// state are loaded from kv if present, or created on first use.
func Open(ctx context.Context, kv kvstore.KV, opts Options) (*Manager, error) {
	if opts.ApplyToStore == nil {
		return nil, fmt.Errorf("sync: Options.ApplyToStore is required")
	}
	opts.setDefaults()

	var site siteid.SiteID
	if opts.SiteID != nil {
		site = *opts.SiteID
	} else {
		s, err := metastore.LoadOrCreateSiteID(ctx, kv, time.Now())
		if err != nil {
			return nil, fmt.Errorf("sync: load site identity: %w", err)
		}
		site = s
	}

	state, err := metastore.LoadHLCState(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("sync: load hlc state: %w", err)
	}
	clock := hlc.New(site, state)
	logger := log.WithSiteID(site.String())

	m := &Manager{
		kv:         kv,
		clock:      clock,
		siteID:     site,
		opts:       opts,
		logger:     logger,
		broker:     events.NewBroker(),
		cv:         metastore.NewColumnVersionStore(kv),
		tb:         metastore.NewTombstoneStore(kv),
		sv:         metastore.NewSchemaVersionStore(kv),
		sm:         metastore.NewSchemaMigrationStore(kv),
		peer:       metastore.NewPeerStateStore(kv),
		cl:         metastore.NewChangeLogStore(kv),
		ck:         metastore.NewCheckpointStore(kv),
		tablesSeen: make(map[tableKey]struct{}),
	}
	m.broker.Start()
	return m, nil
}

// Close stops the manager's event broker. The underlying KV store is
// borrowed, not owned, and is not closed here.
func (m *Manager) Close() error {
	m.broker.Stop()
	return nil
}

// SiteID returns this replica's site identity.
func (m *Manager) SiteID() siteid.SiteID {
	return m.siteID
}

// Subscribe returns a channel of sync engine events.
func (m *Manager) Subscribe() events.Subscriber {
	return m.broker.Subscribe()
}

// Unsubscribe stops delivery to sub.
func (m *Manager) Unsubscribe(sub events.Subscriber) {
	m.broker.Unsubscribe(sub)
}

func (m *Manager) markTableSeen(schema, table string) {
	m.tablesSeen[tableKey{schema, table}] = struct{}{}
}

// Stats samples aggregate state for metrics.Collector. Tombstone counts
// are limited to tables this replica has written through RecordChange,
// ApplyChanges or ApplySnapshotStream, since the KV store has no global
// table index.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	cl, err := m.cl.ScanAll(ctx)
	if err != nil {
		return Stats{}, crdterrors.WrapStore("scan change log", err)
	}

	byTable := make(map[string]int)
	m.mu.Lock()
	tables := make([]tableKey, 0, len(m.tablesSeen))
	for k := range m.tablesSeen {
		tables = append(tables, k)
	}
	m.mu.Unlock()

	for _, t := range tables {
		entries, err := m.tb.ScanTable(ctx, t.schema, t.table)
		if err != nil {
			return Stats{}, crdterrors.WrapStore("scan tombstones", err)
		}
		if len(entries) > 0 {
			byTable[t.table] = len(entries)
		}
	}

	peerEntries, err := m.peer.ScanAll(ctx)
	if err != nil {
		return Stats{}, crdterrors.WrapStore("scan peer state", err)
	}
	peers := make(map[string]PeerStat, len(peerEntries))
	for _, pe := range peerEntries {
		peers[pe.SiteID.String()] = PeerStat{CanDeltaSync: pe.State.CanDeltaSync}
	}

	return Stats{
		ChangeLogSize:     len(cl),
		HLCCounter:        m.clock.State().Counter,
		TombstonesByTable: byTable,
		Peers:             peers,
	}, nil
}
