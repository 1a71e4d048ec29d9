package graph

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/protocol"
)

// Control is an input, output or function block exposed by the Miniserver.
// Relations to rooms, categories, parent and children are held as keys into
// the owning Graph.
type Control struct {
	id       ident.ID
	behavior Behavior

	mu       sync.RWMutex
	name     string
	typ      string
	room     ident.Key
	category ident.Key
	parent   ident.Key
	details  json.RawMessage
	states   map[string]*State
	children map[ident.Key]*Control
	disposed bool

	touched bool
}

func newControl(id ident.ID, b Behavior) *Control {
	return &Control{
		id:       id,
		behavior: b,
		states:   make(map[string]*State),
		children: make(map[ident.Key]*Control),
		touched:  true,
	}
}

// ID returns the control identifier.
func (c *Control) ID() ident.ID { return c.id }

// Behavior returns the type specific behaviour.
func (c *Control) Behavior() Behavior { return c.behavior }

// Name returns the display name.
func (c *Control) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Type returns the controller's type name.
func (c *Control) Type() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typ
}

// Room returns the key of the room, or "" when there is none.
func (c *Control) Room() ident.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// Category returns the key of the category, or "".
func (c *Control) Category() ident.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.category
}

// Parent returns the key of the composite parent, or "".
func (c *Control) Parent() ident.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Details returns the raw type specific details object.
func (c *Control) Details() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.details
}

// State looks a state up by name, case-insensitively.
func (c *Control) State(name string) *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[strings.ToLower(name)]
}

// States returns all states sorted by lower-cased name.
func (c *Control) States() []*State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.states))
	for n := range c.states {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*State, 0, len(names))
	for _, n := range names {
		out = append(out, c.states[n])
	}
	return out
}

// Children returns the sub-controls sorted by key.
func (c *Control) Children() []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Control, 0, len(c.children))
	for _, ch := range c.children {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.Key() < out[j].id.Key() })
	return out
}

// Disposed reports whether the control was removed from the graph.
func (c *Control) Disposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// Number is a shorthand for the numeric value of a named state.
func (c *Control) Number(state string) (float64, bool) {
	s := c.State(state)
	if s == nil {
		return 0, false
	}
	return s.Number()
}

// Text is a shorthand for the text value of a named state.
func (c *Control) Text(state string) (string, bool) {
	s := c.State(state)
	if s == nil {
		return "", false
	}
	return s.Text()
}

// Format renders the current value through the behaviour.
func (c *Control) Format() string {
	if c.behavior == nil {
		return ""
	}
	return c.behavior.Format(c)
}

// Command translates an operation into a full jdev/sps/io command.
func (c *Control) Command(op string, args ...string) (string, error) {
	if c.behavior == nil {
		return "", ErrUnsupportedOperation
	}
	action, err := c.behavior.Action(c, op, args...)
	if err != nil {
		return "", err
	}
	return protocol.ActionCommand(c.id, action), nil
}
