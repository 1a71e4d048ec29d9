package controls

import (
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// Dimmer has a "position" state between "min" and "max", 0-100 unless the
// Miniserver reports otherwise.
type Dimmer struct{}

func (Dimmer) bounds(c *graph.Control) (float64, float64) {
	lo, ok := c.Number("min")
	if !ok {
		lo = 0
	}
	hi, ok := c.Number("max")
	if !ok || hi <= lo {
		hi = 100
	}
	return lo, hi
}

func (d Dimmer) Format(c *graph.Control) string {
	v, ok := c.Number("position")
	if !ok {
		return "unknown"
	}
	return formatNumber(v) + "%"
}

func (d Dimmer) Action(c *graph.Control, op string, args ...string) (string, error) {
	switch strings.ToLower(op) {
	case OpOn:
		return "On", nil
	case OpOff:
		return "Off", nil
	case OpPlus:
		return "plus", nil
	case OpMinus:
		return "minus", nil
	case OpSet:
		v, err := number(TypeDimmer, op, args)
		if err != nil {
			return "", err
		}
		lo, hi := d.bounds(c)
		return formatNumber(clamp(v, lo, hi)), nil
	}
	return "", unsupported(TypeDimmer, op)
}
