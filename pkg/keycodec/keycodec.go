// Package keycodec encodes primary-key tuples and builds/parses the
// metadata key-space the sync engine's stores live under. All metadata
// keys share one ordered KV store under disjoint text prefixes; this
// package is the only place that knows how those bytes are laid out.
package keycodec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cuemby/crdtsync/pkg/hlc"
)

// Metadata key prefixes. Each owns a disjoint region of the keyspace.
const (
	PrefixColumnVersion  = "cv:"
	PrefixTombstone      = "tb:"
	PrefixSchemaVersion  = "sv:"
	PrefixChangeLog      = "cl:"
	PrefixPeerState      = "pr:"
	PrefixSchemaMigrate  = "sm:"
	PrefixSnapshotCkpt   = "sc:"
	KeyHLCState          = "hlc:state"
	KeySiteIdentity      = "site:identity"
)

// Value type tags for primary-key encoding.
const (
	tagInt    byte = 0x01
	tagText   byte = 0x02
	tagBlob   byte = 0x03
	tagBool   byte = 0x04
	tagFloat  byte = 0x05
	tagNull   byte = 0x06
)

// Value is one typed component of a primary-key tuple.
type Value struct {
	Int   *int64
	Text  *string
	Blob  []byte
	Bool  *bool
	Float *float64
	Null  bool
}

// IntValue constructs an integer PK component.
func IntValue(v int64) Value { return Value{Int: &v} }

// TextValue constructs a text PK component.
func TextValue(v string) Value { return Value{Text: &v} }

// BlobValue constructs a raw-bytes PK component.
func BlobValue(v []byte) Value { return Value{Blob: v} }

// BoolValue constructs a boolean PK component.
func BoolValue(v bool) Value { return Value{Bool: &v} }

// FloatValue constructs a float64 PK component.
func FloatValue(v float64) Value { return Value{Float: &v} }

// NullValue constructs a SQL-NULL PK component.
func NullValue() Value { return Value{Null: true} }

// EncodeValue appends the byte-order-preserving encoding of v to dst and
// returns the result.
//
// Integers encode as a 1-byte tag followed by 8 big-endian bytes with the
// sign bit flipped, so that two's-complement ordering becomes unsigned
// byte ordering: encode(a) < encode(b) byte-wise whenever a < b.
func EncodeValue(dst []byte, v Value) []byte {
	switch {
	case v.Null:
		return append(dst, tagNull)
	case v.Int != nil:
		dst = append(dst, tagInt)
		u := uint64(*v.Int) ^ (uint64(1) << 63)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], u)
		return append(dst, buf[:]...)
	case v.Float != nil:
		dst = append(dst, tagFloat)
		bits := floatBitsOrdered(*v.Float)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		return append(dst, buf[:]...)
	case v.Bool != nil:
		dst = append(dst, tagBool)
		if *v.Bool {
			return append(dst, 1)
		}
		return append(dst, 0)
	case v.Text != nil:
		dst = append(dst, tagText)
		// NUL-terminate: text never legitimately contains a NUL byte in
		// SQL data, and terminating guarantees a tuple-prefix can never
		// collide with a longer tuple sharing the same leading bytes.
		dst = append(dst, []byte(*v.Text)...)
		return append(dst, 0x00)
	default: // Blob
		dst = append(dst, tagBlob)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v.Blob)))
		dst = append(dst, lenBuf[:]...)
		return append(dst, v.Blob...)
	}
}

// floatBitsOrdered maps a float64's IEEE-754 bits to a uint64 whose
// unsigned ordering matches the float's numeric ordering.
func floatBitsOrdered(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		// Negative: flip every bit so larger magnitude sorts smaller.
		return ^bits
	}
	// Positive: flip only the sign bit so positives sort after negatives.
	return bits | (1 << 63)
}

// DecodeInt decodes a single integer value previously produced by
// EncodeValue(IntValue(...)), returning the consumed byte length. Decoding
// isn't required for metadata operations, but is exact where used.
func DecodeInt(b []byte) (int64, int, error) {
	if len(b) < 9 || b[0] != tagInt {
		return 0, 0, fmt.Errorf("keycodec: not an encoded integer")
	}
	u := binary.BigEndian.Uint64(b[1:9])
	return int64(u ^ (uint64(1) << 63)), 9, nil
}

// EncodePK encodes an ordered tuple of PK components. Encoding is total
// and injective: no two distinct tuples encode to the same bytes, and a
// tuple's lexicographic byte order matches its component-wise order for
// integer-keyed tables (the common case; mixed-type tuples only need
// injectivity, which the per-value tags, length-prefixed blobs and
// NUL-terminated text guarantee).
func EncodePK(values ...Value) []byte {
	var buf []byte
	for _, v := range values {
		buf = EncodeValue(buf, v)
	}
	return buf
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "/", "\\/")
	return s
}

// tableKeyPrefix builds the `schema/table/` segment shared by all
// per-row metadata keys, with schema and table names escaped so that a
// literal "/" inside a name can never be mistaken for a field delimiter.
func tableKeyPrefix(schema, table string) string {
	return escape(schema) + "/" + escape(table) + "/"
}

// ColumnVersionKey builds a cv: key for (schema, table, pk, column).
func ColumnVersionKey(schema, table string, pk []byte, column string) []byte {
	var b []byte
	b = append(b, PrefixColumnVersion...)
	b = append(b, tableKeyPrefix(schema, table)...)
	b = appendLenPrefixed(b, pk)
	b = append(b, '/')
	b = append(b, escape(column)...)
	return b
}

// ColumnVersionTablePrefix builds the half-open scan prefix for every
// column version of one table.
func ColumnVersionTablePrefix(schema, table string) []byte {
	var b []byte
	b = append(b, PrefixColumnVersion...)
	b = append(b, tableKeyPrefix(schema, table)...)
	return b
}

// TombstoneKey builds a tb: key for (schema, table, pk).
func TombstoneKey(schema, table string, pk []byte) []byte {
	var b []byte
	b = append(b, PrefixTombstone...)
	b = append(b, tableKeyPrefix(schema, table)...)
	b = appendLenPrefixed(b, pk)
	return b
}

// TombstoneTablePrefix builds the half-open scan prefix for every
// tombstone of one table.
func TombstoneTablePrefix(schema, table string) []byte {
	var b []byte
	b = append(b, PrefixTombstone...)
	b = append(b, tableKeyPrefix(schema, table)...)
	return b
}

// SchemaVersionKey builds an sv: key for (schema, table, column-or-"__table__").
func SchemaVersionKey(schema, table, columnOrTable string) []byte {
	var b []byte
	b = append(b, PrefixSchemaVersion...)
	b = append(b, tableKeyPrefix(schema, table)...)
	b = append(b, escape(columnOrTable)...)
	return b
}

// SchemaMigrationKey builds an sm: key for (schema, table, monotonic
// version). The version is zero-padded so lexicographic and numeric
// order agree.
func SchemaMigrationKey(schema, table string, version uint64) []byte {
	var b []byte
	b = append(b, PrefixSchemaMigrate...)
	b = append(b, tableKeyPrefix(schema, table)...)
	b = append(b, fmt.Sprintf("%020d", version)...)
	return b
}

// SchemaMigrationTablePrefix builds the scan prefix for all migrations
// recorded against one table.
func SchemaMigrationTablePrefix(schema, table string) []byte {
	var b []byte
	b = append(b, PrefixSchemaMigrate...)
	b = append(b, tableKeyPrefix(schema, table)...)
	return b
}

// PeerStateKey builds the key for one peer's sync state.
func PeerStateKey(peerSiteID []byte) []byte {
	var b []byte
	b = append(b, PrefixPeerState...)
	return append(b, peerSiteID...)
}

// SnapshotCheckpointKey builds the key for a resumable snapshot-ingest
// checkpoint.
func SnapshotCheckpointKey(snapshotID string) []byte {
	var b []byte
	b = append(b, PrefixSnapshotCkpt...)
	return append(b, escape(snapshotID)...)
}

// ChangeLogKind distinguishes a column-change log entry from a deletion
// log entry.
type ChangeLogKind byte

const (
	ChangeLogKindColumn    ChangeLogKind = 'c'
	ChangeLogKindDeletion  ChangeLogKind = 'd'
)

// ChangeLogKey builds `hlc-bytes || kind || (schema, table, pk, column?)`.
// The 26-byte HLC prefix gives the log its natural time ordering.
func ChangeLogKey(h hlc.HLC, kind ChangeLogKind, schema, table string, pk []byte, column string) []byte {
	var b []byte
	b = append(b, PrefixChangeLog...)
	b = append(b, h.Bytes()...)
	b = append(b, byte(kind))
	b = append(b, tableKeyPrefix(schema, table)...)
	b = appendLenPrefixed(b, pk)
	if kind == ChangeLogKindColumn {
		b = append(b, '/')
		b = append(b, escape(column)...)
	}
	return b
}

// ChangeLogScanLowerBound builds the GTE bound for changesSince(lowerHlc):
// the change log prefix followed by lowerHlc's bytes incremented by one
// (epsilon), so the scan starts strictly after lowerHlc.
func ChangeLogScanLowerBound(lowerHlc hlc.HLC) []byte {
	b := append([]byte(PrefixChangeLog), lowerHlc.Bytes()...)
	return incrementBytes(b)
}

// ChangeLogScanPrefix returns the prefix all change-log keys share, for
// building the upper bound of an unbounded scan.
func ChangeLogScanPrefix() []byte {
	return []byte(PrefixChangeLog)
}

func incrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out
		}
		out[i] = 0
	}
	// all bytes were 0xFF: grow by one byte
	return append(out, 0x00)
}

func appendLenPrefixed(dst, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, data...)
}
