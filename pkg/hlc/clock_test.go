package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

func newTestClock(t *testing.T, now time.Time) *Clock {
	t.Helper()
	site, err := siteid.New()
	require.NoError(t, err)
	c := New(site, nil)
	c.nowFn = func() time.Time { return now }
	return c
}

// TestTickMonotonic covers spec property: every HLC emitted by Tick
// strictly dominates every previously observed HLC on the replica, even
// when physical time does not advance between calls.
func TestTickMonotonic(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := newTestClock(t, now)

	var prev HLC
	for i := 0; i < 5; i++ {
		h, err := c.Tick()
		require.NoError(t, err)
		if i > 0 {
			require.True(t, prev.Less(h))
		}
		prev = h
	}
	require.Equal(t, uint16(4), prev.Counter)
}

func TestTickAdvancesWallTimeResetsCounter(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := newTestClock(t, now)

	h1, err := c.Tick()
	require.NoError(t, err)
	require.Equal(t, uint16(0), h1.Counter)

	c.nowFn = func() time.Time { return now.Add(time.Second) }
	h2, err := c.Tick()
	require.NoError(t, err)
	require.Equal(t, uint16(0), h2.Counter)
	require.True(t, h1.Less(h2))
}

func TestReceiveMergesCausality(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := newTestClock(t, now)

	remoteSite, err := siteid.New()
	require.NoError(t, err)
	remote := HLC{WallTime: uint64(now.Add(5 * time.Second).UnixMilli()), Counter: 3, SiteID: remoteSite}

	merged, err := c.Receive(remote)
	require.NoError(t, err)
	require.True(t, merged.GreaterEqual(remote))
	require.Equal(t, remote.WallTime, merged.WallTime)
	require.Equal(t, uint16(4), merged.Counter)

	next, err := c.Tick()
	require.NoError(t, err)
	require.True(t, merged.Less(next))
}

func TestReceiveRejectsExcessiveSkew(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := newTestClock(t, now)

	remoteSite, err := siteid.New()
	require.NoError(t, err)
	remote := HLC{WallTime: uint64(now.Add(2 * MaxDrift).UnixMilli()), SiteID: remoteSite}

	before := c.State()
	_, err = c.Receive(remote)
	require.ErrorIs(t, err, crdterrors.ErrClockSkew)
	require.Equal(t, before, c.State(), "rejected Receive must not mutate state")
}

func TestReceiveSameWallTimeTakesMaxCounterPlusOne(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := newTestClock(t, now)

	_, err := c.Tick()
	require.NoError(t, err)
	_, err = c.Tick()
	require.NoError(t, err)

	remoteSite, err := siteid.New()
	require.NoError(t, err)
	remote := HLC{WallTime: uint64(now.UnixMilli()), Counter: 9, SiteID: remoteSite}

	merged, err := c.Receive(remote)
	require.NoError(t, err)
	require.Equal(t, uint16(10), merged.Counter)
}
