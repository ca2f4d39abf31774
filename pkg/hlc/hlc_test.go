package hlc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/siteid"
)

func mustSite(t *testing.T, b byte) siteid.SiteID {
	t.Helper()
	var raw [16]byte
	raw[15] = b
	s, err := siteid.Parse(raw[:])
	require.NoError(t, err)
	return s
}

func TestHLCBytesRoundTrip(t *testing.T) {
	h := HLC{WallTime: 1234567890, Counter: 42, SiteID: mustSite(t, 7)}
	got, err := Parse(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHLCCompareOrdersByWallTimeThenCounterThenSite(t *testing.T) {
	a := HLC{WallTime: 10, Counter: 0, SiteID: mustSite(t, 1)}
	b := HLC{WallTime: 20, Counter: 0, SiteID: mustSite(t, 1)}
	require.Equal(t, -1, a.Compare(b))
	require.True(t, a.Less(b))

	c := HLC{WallTime: 10, Counter: 1, SiteID: mustSite(t, 1)}
	require.Equal(t, -1, a.Compare(c))

	d := HLC{WallTime: 10, Counter: 0, SiteID: mustSite(t, 2)}
	require.Equal(t, -1, a.Compare(d))
	require.Equal(t, 1, d.Compare(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestHLCBytesOrderingMatchesCompare(t *testing.T) {
	lo := HLC{WallTime: 100, Counter: 5, SiteID: mustSite(t, 1)}
	hi := HLC{WallTime: 100, Counter: 6, SiteID: mustSite(t, 1)}
	require.True(t, lo.Less(hi))

	var less bool
	lb, hb := lo.Bytes(), hi.Bytes()
	for i := range lb {
		if lb[i] != hb[i] {
			less = lb[i] < hb[i]
			break
		}
	}
	require.True(t, less, "serialized byte order must match HLC order")
}

func TestHLCZero(t *testing.T) {
	var h HLC
	require.True(t, h.Zero())
	h.Counter = 1
	require.False(t, h.Zero())
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)
}
