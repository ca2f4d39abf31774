/*
Package events is the sync manager's in-memory pub/sub broker. It
broadcasts four kinds of occurrence (local write committed, remote
change applied, conflict resolved, sync state transitioned) to any
number of subscribers, each on its own buffered channel.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventConflictResolved:
				data := ev.Data.(events.ConflictResolvedData)
				log.Warn().Str("column", data.Column).Msg("conflict resolved")
			case events.EventRemoteChange:
				// ...
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventLocalChange,
		Message: "committed 3 column writes",
		Data:    events.LocalChangeData{Schema: "public", Table: "orders", ChangeCount: 3},
	})

pkg/sync.Manager owns one Broker for its lifetime: Open starts it,
Close stops it, and RecordChange/ApplyChanges publish through it as
changes commit.

# Design

Publish is non-blocking: a full subscriber buffer drops the event
rather than stalling the publisher, so a slow consumer never backs up
the sync engine's own write path. There is no topic filtering or
replay; a subscriber that wants only one event type filters in its own
receive loop.
*/
package events
