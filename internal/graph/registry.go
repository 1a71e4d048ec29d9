package graph

import (
	"errors"
	"strings"
)

// ErrUnsupportedOperation is returned by behaviours for operations they do
// not understand.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Behavior is the type specific part of a control: how its states read and
// which action strings its operations map to.
type Behavior interface {
	// Format renders the control's current value for display.
	Format(c *Control) string
	// Action translates an operation such as "on" or "set 40" into the
	// action segment of a jdev/sps/io command.
	Action(c *Control, op string, args ...string) (string, error)
}

// Disposer is implemented by behaviours that hold resources.
type Disposer interface {
	Dispose(c *Control)
}

// Constructor creates a fresh behaviour for a new control.
type Constructor func() Behavior

// Registry maps a control type name to its constructor. Keys are matched
// case-insensitively.
type Registry map[string]Constructor

// Lookup finds the constructor for a control type.
func (r Registry) Lookup(typ string) (Constructor, bool) {
	ctor, ok := r[strings.ToLower(typ)]
	return ctor, ok
}

// Types returns the number of registered types.
func (r Registry) Types() int { return len(r) }

// Register adds a constructor under the lower-cased type name.
func (r Registry) Register(typ string, ctor Constructor) {
	r[strings.ToLower(typ)] = ctor
}
