package metastore

import (
	"context"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// Tombstone marks a row as deleted as of HLC. TTL is advisory: the
// pruning loop removes a tombstone once it has aged past the configured
// TombstoneTTL, at which point the row can resurrect on a later write
// whatever AllowResurrection says: with no tombstone stored, ShouldBlock
// never blocks.
type Tombstone struct {
	HLC hlc.HLC
}

// TombstoneStore is a typed view over the tb: key prefix.
type TombstoneStore struct {
	kv kvstore.KV
}

// NewTombstoneStore wraps kv for tombstone access.
func NewTombstoneStore(kv kvstore.KV) *TombstoneStore {
	return &TombstoneStore{kv: kv}
}

// Get returns the row's tombstone, or (nil, nil) if the row isn't deleted.
func (s *TombstoneStore) Get(ctx context.Context, schema, table string, pk []byte) (*Tombstone, error) {
	key := keycodec.TombstoneKey(schema, table, pk)
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var ts Tombstone
	if err := decodeJSON(v, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// ShouldBlock reports whether an incoming write at incomingHlc must be
// rejected because the row is tombstoned at-or-after incomingHlc, or
// because resurrection is disallowed and any tombstone exists for the
// row regardless of HLC order.
func (s *TombstoneStore) ShouldBlock(ctx context.Context, schema, table string, pk []byte, incomingHlc hlc.HLC, allowResurrection bool) (bool, error) {
	ts, err := s.Get(ctx, schema, table, pk)
	if err != nil {
		return false, err
	}
	if ts == nil {
		return false, nil
	}
	if !allowResurrection {
		return true, nil
	}
	return incomingHlc.Compare(ts.HLC) <= 0, nil
}

// PutInBatch stages a tombstone write in b.
func (s *TombstoneStore) PutInBatch(b kvstore.Batch, schema, table string, pk []byte, ts Tombstone) error {
	key := keycodec.TombstoneKey(schema, table, pk)
	val, err := encodeJSON(ts)
	if err != nil {
		return err
	}
	b.Put(key, val)
	return nil
}

// DeleteInBatch stages the removal of a row's tombstone in b, used when
// the tombstone ages past TombstoneTTL during pruning.
func (s *TombstoneStore) DeleteInBatch(b kvstore.Batch, schema, table string, pk []byte) {
	b.Delete(keycodec.TombstoneKey(schema, table, pk))
}

// TombstoneEntry pairs a decoded tombstone with its row's primary key,
// returned by ScanTable for the pruning loop.
type TombstoneEntry struct {
	PK        []byte
	Tombstone Tombstone
}

// ScanTable returns every tombstone recorded for one table, for the
// pruning loop to filter by age.
func (s *TombstoneStore) ScanTable(ctx context.Context, schema, table string) ([]TombstoneEntry, error) {
	prefix := keycodec.TombstoneTablePrefix(schema, table)
	it, err := s.kv.Iterate(ctx, scanRange(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []TombstoneEntry
	for it.Next(ctx) {
		pk, ok := extractLenPrefixedPK(it.Key(), len(prefix))
		if !ok {
			continue
		}
		var ts Tombstone
		if err := decodeJSON(it.Value(), &ts); err != nil {
			return nil, err
		}
		entries = append(entries, TombstoneEntry{PK: pk, Tombstone: ts})
	}
	return entries, it.Err()
}
