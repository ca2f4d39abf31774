package metastore

import (
	"context"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// LoadHLCState returns the persisted (wallTime, counter) pair, or nil if
// the clock has never been ticked/received on this replica before.
func LoadHLCState(ctx context.Context, kv kvstore.KV) (*hlc.State, error) {
	v, err := kv.Get(ctx, []byte(keycodec.KeyHLCState))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var st hlc.State
	if err := decodeJSON(v, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutHLCStateInBatch stages the clock's current state in b. Every local
// write and every accepted remote change advances the clock, so this is
// written in the same commit batch as the data it timestamps (spec
// §4.6, §4.7 Phase 3) — otherwise a crash could replay an HLC the clock
// has already forgotten having issued.
func PutHLCStateInBatch(b kvstore.Batch, st hlc.State) error {
	val, err := encodeJSON(st)
	if err != nil {
		return err
	}
	b.Put([]byte(keycodec.KeyHLCState), val)
	return nil
}
