package controls

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// Control type names as they appear in LoxAPP3.json.
const (
	TypeSwitch            = "Switch"
	TypePushbutton        = "Pushbutton"
	TypeDimmer            = "Dimmer"
	TypeJalousie          = "Jalousie"
	TypeInfoOnlyAnalog    = "InfoOnlyAnalog"
	TypeInfoOnlyDigital   = "InfoOnlyDigital"
	TypeTextState         = "TextState"
	TypeLightControllerV2 = "LightControllerV2"
	TypeRadio             = "Radio"
)

// Operations accepted by Action. Not every behaviour accepts all of them.
const (
	OpOn       = "on"
	OpOff      = "off"
	OpPulse    = "pulse"
	OpSet      = "set"
	OpUp       = "up"
	OpDown     = "down"
	OpStop     = "stop"
	OpFullUp   = "fullup"
	OpFullDown = "fulldown"
	OpShade    = "shade"
	OpAuto     = "auto"
	OpNoAuto   = "noauto"
	OpPlus     = "plus"
	OpMinus    = "minus"
	OpMood     = "mood"
	OpReset    = "reset"
)

// DefaultRegistry returns a fresh table with every supported control type.
func DefaultRegistry() graph.Registry {
	reg := graph.Registry{}
	reg.Register(TypeSwitch, func() graph.Behavior { return Switch{} })
	reg.Register(TypePushbutton, func() graph.Behavior { return Pushbutton{} })
	reg.Register(TypeDimmer, func() graph.Behavior { return Dimmer{} })
	reg.Register(TypeJalousie, func() graph.Behavior { return Jalousie{} })
	reg.Register(TypeInfoOnlyAnalog, func() graph.Behavior { return InfoOnlyAnalog{} })
	reg.Register(TypeInfoOnlyDigital, func() graph.Behavior { return InfoOnlyDigital{} })
	reg.Register(TypeTextState, func() graph.Behavior { return TextState{} })
	reg.Register(TypeLightControllerV2, func() graph.Behavior { return LightControllerV2{} })
	reg.Register(TypeRadio, func() graph.Behavior { return Radio{} })
	return reg
}

func unsupported(typ, op string) error {
	return fmt.Errorf("%s %q: %w", typ, op, graph.ErrUnsupportedOperation)
}

// number parses the single numeric argument of a "set" style operation.
func number(typ, op string, args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s %q: expected one numeric argument", typ, op)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s %q: invalid number %q", typ, op, args[0])
	}
	return v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func onOff(c *graph.Control, state string) string {
	v, ok := c.Number(state)
	if !ok {
		return "unknown"
	}
	if v != 0 {
		return "on"
	}
	return "off"
}

// details decodes the control's details object into v. A missing or
// malformed object leaves v untouched.
func details(c *graph.Control, v any) {
	raw := c.Details()
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
