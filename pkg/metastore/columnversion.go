package metastore

import (
	"context"
	"encoding/json"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// ColumnVersion is the LWW record for one (schema, table, pk, column).
// Value holds the column's host-defined value, opaque to the sync engine.
type ColumnVersion struct {
	HLC   hlc.HLC
	Value json.RawMessage
}

// ColumnVersionStore is a typed view over the cv: key prefix. Only one
// version exists per (schema, table, pk, column) at any time.
type ColumnVersionStore struct {
	kv kvstore.KV
}

// NewColumnVersionStore wraps kv for column-version access.
func NewColumnVersionStore(kv kvstore.KV) *ColumnVersionStore {
	return &ColumnVersionStore{kv: kv}
}

// Get returns the current column version, or (nil, nil) if none exists.
func (s *ColumnVersionStore) Get(ctx context.Context, schema, table string, pk []byte, column string) (*ColumnVersion, error) {
	key := keycodec.ColumnVersionKey(schema, table, pk, column)
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var cv ColumnVersion
	if err := decodeJSON(v, &cv); err != nil {
		return nil, err
	}
	return &cv, nil
}

// ShouldApplyWrite reports whether an incoming write at incomingHlc
// should be applied: true iff no existing version or incomingHlc is
// strictly greater than the existing one.
func (s *ColumnVersionStore) ShouldApplyWrite(ctx context.Context, schema, table string, pk []byte, column string, incomingHlc hlc.HLC) (bool, *ColumnVersion, error) {
	existing, err := s.Get(ctx, schema, table, pk, column)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		return true, nil, nil
	}
	return incomingHlc.Compare(existing.HLC) > 0, existing, nil
}

// Put writes a column version directly (non-batched).
func (s *ColumnVersionStore) Put(ctx context.Context, schema, table string, pk []byte, column string, cv ColumnVersion) error {
	key := keycodec.ColumnVersionKey(schema, table, pk, column)
	val, err := encodeJSON(cv)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, key, val)
}

// PutInBatch stages a column-version write in b.
func (s *ColumnVersionStore) PutInBatch(b kvstore.Batch, schema, table string, pk []byte, column string, cv ColumnVersion) error {
	key := keycodec.ColumnVersionKey(schema, table, pk, column)
	val, err := encodeJSON(cv)
	if err != nil {
		return err
	}
	b.Put(key, val)
	return nil
}

// DeleteInBatch stages the removal of a column version in b.
func (s *ColumnVersionStore) DeleteInBatch(b kvstore.Batch, schema, table string, pk []byte, column string) {
	b.Delete(keycodec.ColumnVersionKey(schema, table, pk, column))
}

// ScanRow iterates every live column version for one (schema, table, pk)
// by scanning the table's column-version prefix and filtering by pk. Used
// when retiring a deleted row's column versions.
func (s *ColumnVersionStore) ScanRow(ctx context.Context, schema, table string, pk []byte) ([]string, error) {
	prefix := keycodec.ColumnVersionKey(schema, table, pk, "")
	// ColumnVersionKey with an empty column still emits the trailing "/"
	// delimiter, so prefix already scopes the scan to this row's columns.
	r := scanRange(prefix)
	it, err := s.kv.Iterate(ctx, r)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var columns []string
	for it.Next(ctx) {
		key := it.Key()
		// column name is everything after the last '/'
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '/' {
				columns = append(columns, string(key[i+1:]))
				break
			}
		}
	}
	return columns, it.Err()
}

// ScanTable iterates every live column version of one table, in KV scan
// order (see changelog.go for the HLC-ordered path).
func (s *ColumnVersionStore) ScanTable(ctx context.Context, schema, table string) (kvstore.Iterator, error) {
	prefix := keycodec.ColumnVersionTablePrefix(schema, table)
	return s.kv.Iterate(ctx, scanRange(prefix))
}

// ColumnVersionEntry is one decoded row from ScanTableEntries.
type ColumnVersionEntry struct {
	PK     []byte
	Column string
	CV     ColumnVersion
}

// ScanTableEntries is ScanTable plus key/value decoding, used by the
// full-scan delta-pull recovery path and snapshot emission.
func (s *ColumnVersionStore) ScanTableEntries(ctx context.Context, schema, table string) ([]ColumnVersionEntry, error) {
	prefix := keycodec.ColumnVersionTablePrefix(schema, table)
	it, err := s.kv.Iterate(ctx, scanRange(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []ColumnVersionEntry
	for it.Next(ctx) {
		key := it.Key()
		pk, ok := extractLenPrefixedPK(key, len(prefix))
		if !ok {
			continue
		}
		var column string
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '/' {
				column = string(key[i+1:])
				break
			}
		}
		var cv ColumnVersion
		if err := decodeJSON(it.Value(), &cv); err != nil {
			return nil, err
		}
		out = append(out, ColumnVersionEntry{PK: pk, Column: column, CV: cv})
	}
	return out, it.Err()
}
