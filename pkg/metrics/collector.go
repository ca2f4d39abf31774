package metrics

import (
	"context"
	"time"

	"github.com/cuemby/crdtsync/pkg/sync"
)

// Collector periodically samples manager state that isn't naturally
// observed at an individual operation's call site: change-log size,
// live tombstone counts, and per-peer delta-sync readiness.
type Collector struct {
	manager *sync.Manager
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector over mgr.
func NewCollector(mgr *sync.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.manager.Stats(ctx)
	if err != nil {
		return
	}

	ChangeLogSize.Set(float64(stats.ChangeLogSize))
	HLCCounter.Set(float64(stats.HLCCounter))

	for table, count := range stats.TombstonesByTable {
		TombstonesTotal.WithLabelValues(table).Set(float64(count))
	}

	PeersTotal.Set(float64(len(stats.Peers)))
	for peerSiteID, peer := range stats.Peers {
		v := 0.0
		if peer.CanDeltaSync {
			v = 1.0
		}
		PeerCanDeltaSync.WithLabelValues(peerSiteID).Set(v)
	}
}
