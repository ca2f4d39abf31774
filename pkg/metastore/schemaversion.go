package metastore

import (
	"context"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// SchemaChangeKind ranks how destructive a schema change is. Merging two
// concurrent schema changes on the same target keeps the more destructive
// one, ties broken by HLC.
type SchemaChangeKind int

const (
	// SchemaChangeColumn is a column add/alter.
	SchemaChangeColumn SchemaChangeKind = 1
	// SchemaChangeTable is a table-level change (e.g. rename).
	SchemaChangeTable SchemaChangeKind = 2
	// SchemaChangeDrop is a table or column drop, the most destructive
	// kind: a drop always wins over a concurrent non-drop change.
	SchemaChangeDrop SchemaChangeKind = 3
)

// schemaTableTarget is the reserved column-or-table key used for
// table-level (as opposed to per-column) schema version records.
const schemaTableTarget = "__table__"

// SchemaVersion is the current recorded schema state for one
// (schema, table, column-or-table) target.
type SchemaVersion struct {
	HLC     hlc.HLC
	Kind    SchemaChangeKind
	Version uint64
}

// SchemaVersionStore is a typed view over the sv: key prefix.
type SchemaVersionStore struct {
	kv kvstore.KV
}

// NewSchemaVersionStore wraps kv for schema-version access.
func NewSchemaVersionStore(kv kvstore.KV) *SchemaVersionStore {
	return &SchemaVersionStore{kv: kv}
}

// Get returns the recorded schema version for target ("" for the
// table-level record), or (nil, nil) if none exists.
func (s *SchemaVersionStore) Get(ctx context.Context, schema, table, target string) (*SchemaVersion, error) {
	if target == "" {
		target = schemaTableTarget
	}
	v, err := s.kv.Get(ctx, keycodec.SchemaVersionKey(schema, table, target))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var sv SchemaVersion
	if err := decodeJSON(v, &sv); err != nil {
		return nil, err
	}
	return &sv, nil
}

// ShouldApply implements the destructive-wins merge: an incoming schema
// change is applied iff there is no existing record, or the incoming
// change ranks strictly more destructive than the existing one, or they
// rank equal and the incoming HLC is strictly greater (tie-break).
func (s *SchemaVersionStore) ShouldApply(ctx context.Context, schema, table, target string, incoming SchemaVersion) (bool, error) {
	existing, err := s.Get(ctx, schema, table, target)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, nil
	}
	if incoming.Kind != existing.Kind {
		return incoming.Kind > existing.Kind, nil
	}
	return incoming.HLC.Compare(existing.HLC) > 0, nil
}

// PutInBatch stages a schema-version write in b.
func (s *SchemaVersionStore) PutInBatch(b kvstore.Batch, schema, table, target string, sv SchemaVersion) error {
	if target == "" {
		target = schemaTableTarget
	}
	val, err := encodeJSON(sv)
	if err != nil {
		return err
	}
	b.Put(keycodec.SchemaVersionKey(schema, table, target), val)
	return nil
}

// SchemaMigration is the durable record of one applied DDL change,
// replayed to new peers via snapshot streaming.
type SchemaMigration struct {
	Version uint64
	Schema  string
	Table   string
	// Target is the column name for a column-kind change, or "" for a
	// table-level change.
	Target string
	Kind   SchemaChangeKind
	DDL    string
	HLC    hlc.HLC
}

// SchemaMigrationStore is a typed view over the sm: key prefix, an
// append-only log of every schema migration ever applied.
type SchemaMigrationStore struct {
	kv kvstore.KV
}

// NewSchemaMigrationStore wraps kv for schema-migration history access.
func NewSchemaMigrationStore(kv kvstore.KV) *SchemaMigrationStore {
	return &SchemaMigrationStore{kv: kv}
}

// PutInBatch stages an immutable migration record in b, keyed by its
// monotonic version so replay order matches assignment order.
func (s *SchemaMigrationStore) PutInBatch(b kvstore.Batch, m SchemaMigration) error {
	val, err := encodeJSON(m)
	if err != nil {
		return err
	}
	b.Put(keycodec.SchemaMigrationKey(m.Schema, m.Table, m.Version), val)
	return nil
}

// ScanTable returns every migration recorded for one table, in
// ascending version order (the keyspace's lexicographic order, since
// versions are zero-padded).
func (s *SchemaMigrationStore) ScanTable(ctx context.Context, schema, table string) ([]SchemaMigration, error) {
	prefix := keycodec.SchemaMigrationTablePrefix(schema, table)
	it, err := s.kv.Iterate(ctx, scanRange(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []SchemaMigration
	for it.Next(ctx) {
		var m SchemaMigration
		if err := decodeJSON(it.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, it.Err()
}

// ScanAll returns every recorded migration across every table, used by
// snapshot emit and the full-scan delta-pull recovery path.
func (s *SchemaMigrationStore) ScanAll(ctx context.Context) ([]SchemaMigration, error) {
	it, err := s.kv.Iterate(ctx, scanRange([]byte(keycodec.PrefixSchemaMigrate)))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []SchemaMigration
	for it.Next(ctx) {
		var m SchemaMigration
		if err := decodeJSON(it.Value(), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, it.Err()
}
