// Package events fans database lifecycle changes out to websocket and TCP
// line clients, and optionally across server instances through redis.
package events

import (
	"time"

	"archimap/internal/remotedb"
)

const (
	TypeWelcome          = "welcome"
	TypeDatabaseLoaded   = string(remotedb.ChangeLoaded)
	TypeDatabaseReloaded = string(remotedb.ChangeReloaded)
	TypeDatabaseFailed   = string(remotedb.ChangeFailed)
)

type DatabaseEvent struct {
	Type       string    `json:"type"`
	Generation uint64    `json:"generation"`
	Size       int64     `json:"size"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
	// Origin is the instance id of the server that produced the event.
	Origin string `json:"origin,omitempty"`
}

func FromChange(c remotedb.Change, origin string) DatabaseEvent {
	ev := DatabaseEvent{
		Type:       string(c.Kind),
		Generation: c.Generation,
		Size:       c.Info.Size,
		At:         c.At.UTC(),
		Origin:     origin,
	}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	return ev
}
