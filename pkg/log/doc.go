/*
Package log provides structured logging for the sync engine, wrapping
zerolog for JSON-structured output, level filtering, and context
loggers scoped to a site or a peer.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

pkg/sync.Open derives a site-scoped logger once, at manager
construction:

	siteLog := log.WithSiteID(mgr.SiteID().String())
	siteLog.Info().Int("applied", res.Applied).Msg("applied change set")

The engine's delta-pull and snapshot code log through that same
site-scoped logger. WithPeer derives a logger carrying a peer's site ID:

	peerLog := log.WithPeer(peer.String())
	peerLog.Warn().Err(err).Msg("delta pull failed, falling back to snapshot")

WithComponent derives a logger carrying a component name:

	storeLog := log.WithComponent("boltkv")
	storeLog.Debug().Msg("opened metadata bucket")

# Design

One package-level zerolog.Logger, set once by Init and read from
everywhere else. WithComponent/WithSiteID/WithPeer derive a child
logger carrying one extra field rather than making every call site
repeat it. Row and column values never belong in a log line: change
sets carry arbitrary host data, and logging it would leak whatever
the host is storing.
*/
package log
