package session

import (
	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/offline"
)

// Listener receives session callbacks. Calls are made from the session's
// consumer goroutine, one at a time, and must not block for long.
type Listener interface {
	// OnConfiguration runs after a structure file has been merged.
	OnConfiguration(g *graph.Graph)
	OnServerOnline()
	OnServerOffline(reason offline.Reason, detail string)
	// OnStateUpdate runs for every control exposing an updated state.
	// state is the lower-cased state name.
	OnStateUpdate(ctl *graph.Control, state string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Configuration func(g *graph.Graph)
	Online        func()
	Offline       func(reason offline.Reason, detail string)
	StateUpdate   func(ctl *graph.Control, state string)
}

func (f ListenerFuncs) OnConfiguration(g *graph.Graph) {
	if f.Configuration != nil {
		f.Configuration(g)
	}
}

func (f ListenerFuncs) OnServerOnline() {
	if f.Online != nil {
		f.Online()
	}
}

func (f ListenerFuncs) OnServerOffline(reason offline.Reason, detail string) {
	if f.Offline != nil {
		f.Offline(reason, detail)
	}
}

func (f ListenerFuncs) OnStateUpdate(ctl *graph.Control, state string) {
	if f.StateUpdate != nil {
		f.StateUpdate(ctl, state)
	}
}
