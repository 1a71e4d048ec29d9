package controls

import (
	"fmt"
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// Jalousie is a blind or shutter. Its "position" state runs from 0 (fully
// up) to 1 (fully down); the set operation takes a percentage.
type Jalousie struct{}

func (Jalousie) Format(c *graph.Control) string {
	v, ok := c.Number("position")
	if !ok {
		return "unknown"
	}
	out := formatNumber(clamp(v, 0, 1)*100) + "%"
	if auto, ok := c.Number("autoActive"); ok && auto != 0 {
		out += " (auto)"
	}
	return out
}

func (Jalousie) Action(c *graph.Control, op string, args ...string) (string, error) {
	switch strings.ToLower(op) {
	case OpUp:
		return "up", nil
	case OpDown:
		return "down", nil
	case OpStop:
		return "stop", nil
	case OpFullUp:
		return "FullUp", nil
	case OpFullDown:
		return "FullDown", nil
	case OpShade:
		return "shade", nil
	case OpAuto:
		return "auto", nil
	case OpNoAuto:
		return "NoAuto", nil
	case OpSet:
		v, err := number(TypeJalousie, op, args)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("manualPosition/%s", formatNumber(clamp(v, 0, 100))), nil
	}
	return "", unsupported(TypeJalousie, op)
}
