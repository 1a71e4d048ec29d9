package controls

import (
	"fmt"
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// InfoOnlyAnalog is a read-only value. The details object may carry a
// printf style "format" such as "%.1f°C".
type InfoOnlyAnalog struct{}

func (InfoOnlyAnalog) Format(c *graph.Control) string {
	v, ok := c.Number("value")
	if !ok {
		return "unknown"
	}
	var d struct {
		Format string `json:"format"`
	}
	details(c, &d)
	return formatAnalog(d.Format, v)
}

func (InfoOnlyAnalog) Action(c *graph.Control, op string, args ...string) (string, error) {
	return "", unsupported(TypeInfoOnlyAnalog, op)
}

// formatAnalog applies a Miniserver format string. Integer verbs are
// rendered as rounded floats since the value is always a float.
func formatAnalog(format string, v float64) string {
	if !strings.Contains(format, "%") {
		return formatNumber(v)
	}
	format = strings.ReplaceAll(format, "%d", "%.0f")
	format = strings.ReplaceAll(format, "%i", "%.0f")
	return fmt.Sprintf(format, v)
}

// InfoOnlyDigital is a read-only flag with optional on/off labels in
// details.text.
type InfoOnlyDigital struct{}

func (InfoOnlyDigital) Format(c *graph.Control) string {
	state := onOff(c, "active")
	var d struct {
		Text struct {
			On  string `json:"on"`
			Off string `json:"off"`
		} `json:"text"`
	}
	details(c, &d)
	switch {
	case state == "on" && d.Text.On != "":
		return d.Text.On
	case state == "off" && d.Text.Off != "":
		return d.Text.Off
	}
	return state
}

func (InfoOnlyDigital) Action(c *graph.Control, op string, args ...string) (string, error) {
	return "", unsupported(TypeInfoOnlyDigital, op)
}

// TextState shows the text of its "textAndIcon" state.
type TextState struct{}

func (TextState) Format(c *graph.Control) string {
	s, ok := c.Text("textAndIcon")
	if !ok {
		return ""
	}
	return s
}

func (TextState) Action(c *graph.Control, op string, args ...string) (string, error) {
	return "", unsupported(TypeTextState, op)
}
