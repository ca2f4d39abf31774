// Package hlc implements the hybrid logical clock used to order changes
// across replicas: a physical-time-anchored timestamp with a logical
// counter and an originating site tag.
package hlc

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// Size is the fixed wire length of a serialized HLC: 8 bytes wall time,
// 2 bytes counter, 16 bytes site id.
const Size = 8 + 2 + siteid.Size

// HLC is a triple (wallTime milliseconds, counter, siteID). Its 26-byte
// big-endian serialization sorts lexicographically in HLC order.
type HLC struct {
	WallTime uint64
	Counter  uint16
	SiteID   siteid.SiteID
}

// Compare returns -1, 0, or 1 as h orders before, equal to, or after o.
func (h HLC) Compare(o HLC) int {
	if h.WallTime != o.WallTime {
		if h.WallTime < o.WallTime {
			return -1
		}
		return 1
	}
	if h.Counter != o.Counter {
		if h.Counter < o.Counter {
			return -1
		}
		return 1
	}
	switch {
	case h.SiteID.Less(o.SiteID):
		return -1
	case o.SiteID.Less(h.SiteID):
		return 1
	default:
		return 0
	}
}

// Less reports whether h orders strictly before o.
func (h HLC) Less(o HLC) bool { return h.Compare(o) < 0 }

// GreaterEqual reports whether h orders at or after o.
func (h HLC) GreaterEqual(o HLC) bool { return h.Compare(o) >= 0 }

// Bytes serializes h to its canonical 26-byte big-endian form.
func (h HLC) Bytes() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf[0:8], h.WallTime)
	binary.BigEndian.PutUint16(buf[8:10], h.Counter)
	copy(buf[10:10+siteid.Size], h.SiteID.Bytes())
	return buf
}

// Parse deserializes a 26-byte big-endian HLC.
func Parse(b []byte) (HLC, error) {
	if len(b) != Size {
		return HLC{}, crdterrors.ErrCorruptMetadata
	}
	var h HLC
	h.WallTime = binary.BigEndian.Uint64(b[0:8])
	h.Counter = binary.BigEndian.Uint16(b[8:10])
	site, err := siteid.Parse(b[10 : 10+siteid.Size])
	if err != nil {
		return HLC{}, err
	}
	h.SiteID = site
	return h, nil
}

// Zero reports whether h is the zero-value HLC (used to mean "no lower
// bound" in change-log scans).
func (h HLC) Zero() bool {
	return h.WallTime == 0 && h.Counter == 0 && h.SiteID.Zero()
}

// String renders h as wallTime.counter@siteID, for logs and events.
func (h HLC) String() string {
	return fmt.Sprintf("%d.%d@%s", h.WallTime, h.Counter, h.SiteID.String())
}
