package metastore

import (
	"context"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// PeerState tracks how far this replica has synced with one peer.
type PeerState struct {
	LastAckedHLC hlc.HLC
	// CanDeltaSync is the flag last passed to Manager.MarkPeerSynced for
	// this peer. It is reported through Manager.Stats; GetChangesSince
	// does not read it.
	CanDeltaSync bool
}

// PeerStateStore is a typed view over the pr: key prefix.
type PeerStateStore struct {
	kv kvstore.KV
}

// NewPeerStateStore wraps kv for peer sync-state access.
func NewPeerStateStore(kv kvstore.KV) *PeerStateStore {
	return &PeerStateStore{kv: kv}
}

// Get returns peer's sync state, or (nil, nil) if this replica has never
// synced with it before — callers must treat an unknown peer as
// needing a full resync, not as already caught up.
func (s *PeerStateStore) Get(ctx context.Context, peer siteid.SiteID) (*PeerState, error) {
	v, err := s.kv.Get(ctx, keycodec.PeerStateKey(peer.Bytes()))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var ps PeerState
	if err := decodeJSON(v, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Put persists peer's sync state directly (non-batched): peer progress
// is bookkeeping, not part of the crash-atomic apply commit.
func (s *PeerStateStore) Put(ctx context.Context, peer siteid.SiteID, ps PeerState) error {
	val, err := encodeJSON(ps)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, keycodec.PeerStateKey(peer.Bytes()), val)
}

// PeerEntry pairs a decoded peer state with the peer's site ID.
type PeerEntry struct {
	SiteID siteid.SiteID
	State  PeerState
}

// ScanAll returns the sync state of every peer this replica has ever
// recorded, for stats reporting and delta-sync gating sweeps.
func (s *PeerStateStore) ScanAll(ctx context.Context) ([]PeerEntry, error) {
	prefix := []byte(keycodec.PrefixPeerState)
	it, err := s.kv.Iterate(ctx, scanRange(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []PeerEntry
	for it.Next(ctx) {
		site, err := siteid.Parse(it.Key()[len(prefix):])
		if err != nil {
			continue
		}
		var ps PeerState
		if err := decodeJSON(it.Value(), &ps); err != nil {
			return nil, err
		}
		out = append(out, PeerEntry{SiteID: site, State: ps})
	}
	return out, it.Err()
}
