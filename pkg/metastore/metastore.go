/*
Package metastore implements the typed wrappers over kvstore.KV that the
sync engine's metadata lives in: column versions, tombstones, schema
versions, schema migrations, peer sync state, snapshot checkpoints, HLC
state, and site identity. Each store owns one key prefix (see
pkg/keycodec) and one JSON serialization format, a per-bucket,
JSON-marshaled-value convention.
*/
package metastore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// decodeJSON unmarshals v into out, wrapping malformed data as
// ErrCorruptMetadata so every store reports the same failure kind for a
// damaged record.
func decodeJSON(v []byte, out interface{}) error {
	if err := json.Unmarshal(v, out); err != nil {
		return crdterrors.ErrCorruptMetadata
	}
	return nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// scanRange builds the half-open range for a key prefix using
// kvstore.PrefixUpperBound for the exclusive upper bound.
func scanRange(prefix []byte) kvstore.Range {
	return kvstore.Range{GTE: prefix, LT: kvstore.PrefixUpperBound(prefix)}
}

// HLCBytes is a convenience re-export so callers of this package don't
// need to import pkg/hlc just to build a scan bound.
type HLCBytes = hlc.HLC

// extractLenPrefixedPK reads the 4-byte-length-prefixed primary key that
// follows the table prefix in a cv:/tb: key, as written by
// keycodec.appendLenPrefixed.
func extractLenPrefixedPK(key []byte, afterOffset int) ([]byte, bool) {
	if len(key) < afterOffset+4 {
		return nil, false
	}
	rest := key[afterOffset:]
	n := binary.BigEndian.Uint32(rest[:4])
	if uint32(len(rest)-4) < n {
		return nil, false
	}
	return rest[4 : 4+n], true
}
