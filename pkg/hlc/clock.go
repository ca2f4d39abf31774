package hlc

import (
	"math"
	"sync"
	"time"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// MaxDrift bounds how far ahead of local physical time an incoming HLC's
// wall time may be before Receive rejects it as clock skew.
const MaxDrift = time.Minute

// State is the persistable (wallTime, counter) pair. SiteID is restored
// separately (see pkg/siteid) since it never changes for a replica.
type State struct {
	WallTime uint64
	Counter  uint16
}

// Clock is a single replica's hybrid logical clock. It is safe for
// concurrent use; callers never need to hold their own lock around Tick
// or Receive.
type Clock struct {
	mu     sync.Mutex
	state  State
	site   siteid.SiteID
	nowFn  func() time.Time
}

// New creates a clock for site, optionally restoring persisted state.
func New(site siteid.SiteID, restore *State) *Clock {
	c := &Clock{site: site, nowFn: time.Now}
	if restore != nil {
		c.state = *restore
	}
	return c
}

// Now returns the current clock state without mutating it.
func (c *Clock) Now() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HLC{WallTime: c.state.WallTime, Counter: c.state.Counter, SiteID: c.site}
}

// State returns the persistable (wallTime, counter) pair.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) localWall() uint64 {
	return uint64(c.nowFn().UnixMilli())
}

// Tick advances the clock for a local event and returns the resulting
// HLC. Every HLC emitted by Tick strictly dominates every previously
// observed HLC on this replica.
func (c *Clock) Tick() (HLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.localWall()
	if w < c.state.WallTime {
		w = c.state.WallTime
	}

	var counter uint16
	if w == c.state.WallTime {
		if c.state.Counter == math.MaxUint16 {
			return HLC{}, crdterrors.ErrCounterOverflow
		}
		counter = c.state.Counter + 1
	} else {
		counter = 0
	}

	c.state = State{WallTime: w, Counter: counter}
	return HLC{WallTime: w, Counter: counter, SiteID: c.site}, nil
}

// Receive merges an incoming remote HLC into local state, advancing
// causality. It fails with ErrClockSkew (no state mutated) if remote's
// wall time exceeds local physical time by more than MaxDrift.
func (c *Clock) Receive(remote HLC) (HLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	localPhysical := c.localWall()
	if remote.WallTime > localPhysical && remote.WallTime-localPhysical > uint64(MaxDrift.Milliseconds()) {
		return HLC{}, crdterrors.ErrClockSkew
	}

	w := localPhysical
	if c.state.WallTime > w {
		w = c.state.WallTime
	}
	if remote.WallTime > w {
		w = remote.WallTime
	}

	var counter uint16
	switch {
	case w == c.state.WallTime && w == remote.WallTime:
		if c.state.Counter == math.MaxUint16 || remote.Counter == math.MaxUint16 {
			return HLC{}, crdterrors.ErrCounterOverflow
		}
		counter = max16(c.state.Counter, remote.Counter) + 1
	case w == c.state.WallTime:
		if c.state.Counter == math.MaxUint16 {
			return HLC{}, crdterrors.ErrCounterOverflow
		}
		counter = c.state.Counter + 1
	case w == remote.WallTime:
		if remote.Counter == math.MaxUint16 {
			return HLC{}, crdterrors.ErrCounterOverflow
		}
		counter = remote.Counter + 1
	default:
		counter = 0
	}

	c.state = State{WallTime: w, Counter: counter}
	return HLC{WallTime: w, Counter: counter, SiteID: c.site}, nil
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
