package metastore

import (
	"context"
	"time"

	"github.com/cuemby/crdtsync/pkg/hlc"
	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// TableRef names one (schema, table) pair.
type TableRef struct {
	Schema string
	Table  string
}

// SnapshotCheckpoint records how far a snapshot ingest has progressed,
// so a crashed or interrupted ingest can resume instead of restarting
// from the beginning. The same record lets the emitting side
// skip tables the peer has already completed on a resumed stream.
type SnapshotCheckpoint struct {
	SnapshotID       string
	SiteID           []byte
	HLC              hlc.HLC
	CompletedTables  []TableRef
	EntriesProcessed uint64
	CreatedAt        time.Time
}

// HasCompleted reports whether (schema, table) is in CompletedTables.
func (cp SnapshotCheckpoint) HasCompleted(schema, table string) bool {
	for _, t := range cp.CompletedTables {
		if t.Schema == schema && t.Table == table {
			return true
		}
	}
	return false
}

// CheckpointStore is a typed view over the sc: key prefix.
type CheckpointStore struct {
	kv kvstore.KV
}

// NewCheckpointStore wraps kv for snapshot-checkpoint access.
func NewCheckpointStore(kv kvstore.KV) *CheckpointStore {
	return &CheckpointStore{kv: kv}
}

// Get returns the checkpoint for snapshotID, or (nil, nil) if ingest of
// that snapshot has never started.
func (s *CheckpointStore) Get(ctx context.Context, snapshotID string) (*SnapshotCheckpoint, error) {
	v, err := s.kv.Get(ctx, keycodec.SnapshotCheckpointKey(snapshotID))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var cp SnapshotCheckpoint
	if err := decodeJSON(v, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Put persists the checkpoint directly, outside the apply batch: a
// checkpoint update must be visible to a resumed ingest even if the
// process crashes before reaching a batch boundary.
func (s *CheckpointStore) Put(ctx context.Context, cp SnapshotCheckpoint) error {
	val, err := encodeJSON(cp)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, keycodec.SnapshotCheckpointKey(cp.SnapshotID), val)
}

// Delete removes a completed snapshot's checkpoint record.
func (s *CheckpointStore) Delete(ctx context.Context, snapshotID string) error {
	return s.kv.Delete(ctx, keycodec.SnapshotCheckpointKey(snapshotID))
}
