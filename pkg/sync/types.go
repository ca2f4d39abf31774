package sync

import (
	"context"
	"encoding/json"

	"github.com/cuemby/crdtsync/pkg/metastore"
)

// DataChangeType is the kind of row-level change a host reports.
type DataChangeType string

const (
	DataChangeInsert DataChangeType = "insert"
	DataChangeUpdate DataChangeType = "update"
	DataChangeDelete DataChangeType = "delete"
)

// DataChangeEvent is what a host reports after a local write to user
// data. Remote must be true for changes the engine itself drove through
// ApplyToStore, so RecordChange can ignore its own echo.
type DataChangeEvent struct {
	Type   DataChangeType
	Schema string
	Table  string
	PK     []byte
	OldRow []interface{}
	NewRow []interface{}
	Remote bool
}

// SchemaChangeEvent is what a host reports after a local DDL change.
type SchemaChangeEvent struct {
	Kind   metastore.SchemaChangeKind
	Schema string
	Table  string
	Target string // column name, or "" for a table-level change
	DDL    string
}

// ColumnInfo names one column of a table, as returned by SchemaLookupFunc.
type ColumnInfo struct {
	Name string
}

// SchemaInfo is the host's view of a table's columns.
type SchemaInfo struct {
	Columns []ColumnInfo
}

// SchemaLookupFunc translates row-array indices into stable column
// names. Without one, the engine falls back to col_<index>.
type SchemaLookupFunc func(ctx context.Context, schema, table string) (*SchemaInfo, bool)

// DataChange is a unit of work handed to ApplyToStoreFunc.
type DataChange struct {
	Type    DataChangeType
	Schema  string
	Table   string
	PK      []byte
	Columns map[string]json.RawMessage // nil for a delete
}

// SchemaChange is a unit of DDL work handed to ApplyToStoreFunc.
type SchemaChange struct {
	Type   string
	Schema string
	Table  string
	DDL    string
}

// ApplyOpts accompanies a call to ApplyToStoreFunc.
type ApplyOpts struct {
	Remote bool
}

// ApplyToStoreResult is what a host returns from ApplyToStoreFunc.
type ApplyToStoreResult struct {
	DataChangesApplied   int
	SchemaChangesApplied int
	Errors               []error
}

// ApplyToStoreFunc mutates user tables; the engine never touches user
// data directly.
type ApplyToStoreFunc func(ctx context.Context, dataChanges []DataChange, schemaChanges []SchemaChange, opts ApplyOpts) (ApplyToStoreResult, error)

// ApplyResult is returned from ApplyChanges.
type ApplyResult struct {
	Applied      int
	Skipped      int
	Conflicts    int
	Transactions int
}

// Stats is a point-in-time snapshot of manager state, sampled by
// pkg/metrics.Collector.
type Stats struct {
	ChangeLogSize     int
	HLCCounter        uint16
	TombstonesByTable map[string]int
	Peers             map[string]PeerStat
}

// PeerStat is one peer's sync readiness, keyed by the peer's text site ID.
type PeerStat struct {
	CanDeltaSync bool
}
