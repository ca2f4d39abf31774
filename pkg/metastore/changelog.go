package metastore

import (
	"context"
	"encoding/json"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// ChangeLogEntry is one live change: a column write or a row deletion.
// The change log holds exactly one entry per currently-live column
// version or tombstone, not an append-only history — an entry is
// deleted the moment a newer write or deletion supersedes it. The HLC-prefixed key gives the log its scan order; the JSON value
// carries the column value, and a delta pull still looks up the
// column-version or tombstone store for each entry to skip entries whose
// record is gone.
type ChangeLogEntry struct {
	HLC    hlc.HLC
	Kind   keycodec.ChangeLogKind
	Schema string
	Table  string
	PK     []byte
	Column string           // empty for a deletion entry
	Value  json.RawMessage  // nil for a deletion entry
}

// ChangeLogStore is a typed view over the cl: key prefix.
type ChangeLogStore struct {
	kv kvstore.KV
}

// NewChangeLogStore wraps kv for change-log access.
func NewChangeLogStore(kv kvstore.KV) *ChangeLogStore {
	return &ChangeLogStore{kv: kv}
}

func (s *ChangeLogStore) key(e ChangeLogEntry) []byte {
	return keycodec.ChangeLogKey(e.HLC, e.Kind, e.Schema, e.Table, e.PK, e.Column)
}

// PutInBatch stages a new live change-log entry in b.
func (s *ChangeLogStore) PutInBatch(b kvstore.Batch, e ChangeLogEntry) error {
	val, err := encodeJSON(e)
	if err != nil {
		return err
	}
	b.Put(s.key(e), val)
	return nil
}

// DeleteInBatch stages the removal of a superseded entry in b. Callers
// pass the HLC/kind/schema/table/pk/column of the OLD entry being
// replaced, not the new one.
func (s *ChangeLogStore) DeleteInBatch(b kvstore.Batch, old ChangeLogEntry) {
	b.Delete(s.key(old))
}

// ScanSince returns every live change-log entry strictly after lowerHLC,
// in HLC order — the fast path for a peer that has synced before.
func (s *ChangeLogStore) ScanSince(ctx context.Context, lowerHLC hlc.HLC) ([]ChangeLogEntry, error) {
	r := kvstore.Range{
		GTE: keycodec.ChangeLogScanLowerBound(lowerHLC),
		LT:  kvstore.PrefixUpperBound(keycodec.ChangeLogScanPrefix()),
	}
	return s.scan(ctx, r)
}

// ScanAll returns every live change-log entry in HLC order — the
// recovery path used when a peer has no recorded sync state at all.
func (s *ChangeLogStore) ScanAll(ctx context.Context) ([]ChangeLogEntry, error) {
	prefix := keycodec.ChangeLogScanPrefix()
	return s.scan(ctx, kvstore.Range{GTE: prefix, LT: kvstore.PrefixUpperBound(prefix)})
}

func (s *ChangeLogStore) scan(ctx context.Context, r kvstore.Range) ([]ChangeLogEntry, error) {
	it, err := s.kv.Iterate(ctx, r)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []ChangeLogEntry
	for it.Next(ctx) {
		var e ChangeLogEntry
		if err := decodeJSON(it.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Err()
}
