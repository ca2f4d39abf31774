package metastore

import (
	"context"
	"time"

	"github.com/cuemby/crdtsync/pkg/keycodec"
	"github.com/cuemby/crdtsync/pkg/kvstore"
	"github.com/cuemby/crdtsync/pkg/siteid"
)

// siteIdentity is the persisted record behind a replica's site ID: the
// ID itself plus the time it was first generated, for diagnostics.
type siteIdentity struct {
	SiteID    siteid.SiteID
	CreatedAt time.Time
}

// LoadOrCreateSiteID returns this store's persisted site ID, generating
// and persisting a new one on first use. The ID never
// changes for the lifetime of the data directory once created.
func LoadOrCreateSiteID(ctx context.Context, kv kvstore.KV, now time.Time) (siteid.SiteID, error) {
	v, err := kv.Get(ctx, []byte(keycodec.KeySiteIdentity))
	if err != nil {
		return siteid.SiteID{}, err
	}
	if v != nil {
		var id siteIdentity
		if err := decodeJSON(v, &id); err != nil {
			return siteid.SiteID{}, err
		}
		return id.SiteID, nil
	}

	id, err := siteid.New()
	if err != nil {
		return siteid.SiteID{}, err
	}
	val, err := encodeJSON(siteIdentity{SiteID: id, CreatedAt: now})
	if err != nil {
		return siteid.SiteID{}, err
	}
	if err := kv.Put(ctx, []byte(keycodec.KeySiteIdentity), val); err != nil {
		return siteid.SiteID{}, err
	}
	return id, nil
}
