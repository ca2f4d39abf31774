package keycodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

func TestEncodeValueIntOrderingMatchesNumericOrdering(t *testing.T) {
	nums := []int64{-1000, -1, 0, 1, 42, 1000}
	var prev []byte
	for _, n := range nums {
		enc := EncodeValue(nil, IntValue(n))
		if prev != nil {
			require.True(t, bytes.Compare(prev, enc) < 0, "encoding of %d should sort before next", n)
		}
		prev = enc
	}
}

func TestEncodeValueFloatOrderingMatchesNumericOrdering(t *testing.T) {
	nums := []float64{-100.5, -1.0, 0.0, 1.5, 100.25}
	var prev []byte
	for _, f := range nums {
		enc := EncodeValue(nil, FloatValue(f))
		if prev != nil {
			require.True(t, bytes.Compare(prev, enc) < 0, "encoding of %v should sort before next", f)
		}
		prev = enc
	}
}

func TestDecodeIntRoundTrip(t *testing.T) {
	enc := EncodeValue(nil, IntValue(-42))
	v, n, err := DecodeInt(enc)
	require.NoError(t, err)
	require.Equal(t, int64(-42), v)
	require.Equal(t, len(enc), n)
}

func TestEncodePKIsInjective(t *testing.T) {
	a := EncodePK(TextValue("foo"), IntValue(1))
	b := EncodePK(TextValue("foo"), IntValue(2))
	c := EncodePK(TextValue("fo"), IntValue(1))
	require.False(t, bytes.Equal(a, b))
	require.False(t, bytes.Equal(a, c))
}

func TestTableKeyPrefixEscapesSlashes(t *testing.T) {
	k1 := ColumnVersionKey("public", "a/b", []byte{1}, "col")
	k2 := ColumnVersionKey("public", "a", []byte{1}, "b/col")
	require.False(t, bytes.Equal(k1, k2), "a table named a/b must not collide with table a + column b/col")
}

func TestColumnVersionKeyPrefixed(t *testing.T) {
	key := ColumnVersionKey("public", "orders", []byte("pk1"), "status")
	prefix := ColumnVersionTablePrefix("public", "orders")
	require.True(t, bytes.HasPrefix(key, prefix))
}

func TestTombstoneKeyPrefixed(t *testing.T) {
	key := TombstoneKey("public", "orders", []byte("pk1"))
	prefix := TombstoneTablePrefix("public", "orders")
	require.True(t, bytes.HasPrefix(key, prefix))
}

func TestSchemaMigrationKeyOrdersNumerically(t *testing.T) {
	k1 := SchemaMigrationKey("public", "orders", 1)
	k9 := SchemaMigrationKey("public", "orders", 9)
	k10 := SchemaMigrationKey("public", "orders", 10)
	require.True(t, bytes.Compare(k1, k9) < 0)
	require.True(t, bytes.Compare(k9, k10) < 0)
}

func TestChangeLogKeyOrdersByHLC(t *testing.T) {
	site, err := siteid.New()
	require.NoError(t, err)
	h1 := hlc.HLC{WallTime: 100, Counter: 0, SiteID: site}
	h2 := hlc.HLC{WallTime: 200, Counter: 0, SiteID: site}

	k1 := ChangeLogKey(h1, ChangeLogKindColumn, "public", "orders", []byte("pk"), "status")
	k2 := ChangeLogKey(h2, ChangeLogKindColumn, "public", "orders", []byte("pk"), "status")
	require.True(t, bytes.Compare(k1, k2) < 0)
}

func TestChangeLogScanLowerBoundExcludesTheBoundItself(t *testing.T) {
	site, err := siteid.New()
	require.NoError(t, err)
	h := hlc.HLC{WallTime: 100, Counter: 5, SiteID: site}

	lower := ChangeLogScanLowerBound(h)
	atBound := ChangeLogKey(h, ChangeLogKindColumn, "public", "orders", []byte("pk"), "status")
	require.True(t, bytes.Compare(atBound, lower) < 0, "a change logged exactly at h must be excluded by the lower bound")

	after := hlc.HLC{WallTime: 100, Counter: 6, SiteID: site}
	afterKey := ChangeLogKey(after, ChangeLogKindColumn, "public", "orders", []byte("pk"), "status")
	require.True(t, bytes.Compare(afterKey, lower) >= 0, "a change logged strictly after h must be included")
}
