package events

import (
	"archimap/internal/remotedb"
)

// Notifier is the part of the loader the hub listens to.
type Notifier interface {
	OnChange(fn func(remotedb.Change))
}

// Attach forwards every load outcome of n to hub, and to the other instances
// when relay is set.
func Attach(n Notifier, hub *Hub, relay *Relay) {
	origin := ""
	if relay != nil {
		origin = relay.Instance()
	}
	n.OnChange(func(c remotedb.Change) {
		ev := FromChange(c, origin)
		hub.Publish(ev)
		if relay != nil {
			relay.Publish(ev)
		}
	})
}
