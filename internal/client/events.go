package client

import (
	"fmt"

	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
)

// EventType identifies what an Event carries.
type EventType int

const (
	// ConfigReceived carries the structure file in Config.
	ConfigReceived EventType = iota
	// StateUpdate carries one decoded record in Update.
	StateUpdate
	// ServerOnline follows ConfigReceived once the client is running.
	ServerOnline
	// ServerOffline carries the Reason the connection ended.
	ServerOffline
	// Shutdown asks the consumer to stop.
	Shutdown
)

func (t EventType) String() string {
	switch t {
	case ConfigReceived:
		return "config-received"
	case StateUpdate:
		return "state-update"
	case ServerOnline:
		return "server-online"
	case ServerOffline:
		return "server-offline"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is produced by the client for its consumer.
type Event struct {
	Type   EventType
	Reason offline.Reason
	Detail string
	Config *protocol.AppConfig
	Update protocol.StateUpdate
}

// EventSink receives events. Put is called from the client's goroutines and
// must not block.
type EventSink interface {
	Put(Event)
}
