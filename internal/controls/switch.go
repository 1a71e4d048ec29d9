package controls

import (
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// Switch is a latching on/off output with an "active" state.
type Switch struct{}

func (Switch) Format(c *graph.Control) string { return onOff(c, "active") }

func (Switch) Action(c *graph.Control, op string, args ...string) (string, error) {
	switch strings.ToLower(op) {
	case OpOn:
		return "On", nil
	case OpOff:
		return "Off", nil
	case OpPulse:
		return "Pulse", nil
	}
	return "", unsupported(TypeSwitch, op)
}

// Pushbutton behaves like Switch but is usually pulsed.
type Pushbutton struct{}

func (Pushbutton) Format(c *graph.Control) string { return onOff(c, "active") }

func (Pushbutton) Action(c *graph.Control, op string, args ...string) (string, error) {
	a, err := Switch{}.Action(c, op, args...)
	if err != nil {
		return "", unsupported(TypePushbutton, op)
	}
	return a, nil
}
