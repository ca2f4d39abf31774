// Package siteid implements the 16-byte, version-4-UUID-shaped replica
// identity that tags every HLC timestamp a replica emits.
package siteid

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/cuemby/crdtsync/pkg/crdterrors"
)

// Size is the fixed byte length of a site ID.
const Size = 16

// SiteID is a 16-byte replica identity, generated once per replica and
// persisted for its lifetime.
type SiteID [Size]byte

// New generates a fresh, version-4 site ID.
//
// uuid.NewRandom already produces a 16-byte value with the version nibble
// set to 4 and the variant bits set to 10, which is exactly the shape a
// site ID requires, so no hand-rolled RNG is needed here.
func New() (SiteID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return SiteID{}, err
	}
	var s SiteID
	copy(s[:], id[:])
	return s, nil
}

// FromUUID converts a caller-provided UUID into a SiteID verbatim.
func FromUUID(id uuid.UUID) SiteID {
	var s SiteID
	copy(s[:], id[:])
	return s
}

// Bytes returns the raw 16 bytes of s.
func (s SiteID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, s[:])
	return out
}

// Parse decodes a 16-byte site ID.
func Parse(b []byte) (SiteID, error) {
	if len(b) != Size {
		return SiteID{}, crdterrors.ErrCorruptMetadata
	}
	var s SiteID
	copy(s[:], b)
	return s, nil
}

// Zero reports whether s is the all-zero site ID.
func (s SiteID) Zero() bool {
	return s == SiteID{}
}

// Equal reports byte-level equality between s and o.
func (s SiteID) Equal(o SiteID) bool {
	return s == o
}

// Less gives SiteID a total byte-lexicographic order, used only to break
// ties when two HLCs share wall time and counter.
func (s SiteID) Less(o SiteID) bool {
	for i := range s {
		if s[i] != o[i] {
			return s[i] < o[i]
		}
	}
	return false
}

// String renders s as a URL-safe base64 (22 chars, no padding) diagnostic
// form.
func (s SiteID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// Hex renders s as a 32-character lowercase hex diagnostic form.
func (s SiteID) Hex() string {
	return hex.EncodeToString(s[:])
}

// ParseString decodes the base64url text form produced by String.
func ParseString(text string) (SiteID, error) {
	b, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return SiteID{}, crdterrors.ErrCorruptMetadata
	}
	return Parse(b)
}
