package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner printed at the start of a command.
type Header struct {
	Title   string  // e.g., "CONTROLS"
	Command string  // e.g., "loxctl controls"
	Params  []Field // e.g., Miniserver, User, Security
	Width   int
}

// NewHeader creates a new header sized to the terminal
func NewHeader(title, command string, params []Field) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the rendering width
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(h.Params) > 0 {
		dividerWidth := width - 6
		if dividerWidth < 10 {
			dividerWidth = 10
		}
		content = lipgloss.JoinVertical(lipgloss.Left,
			content,
			RenderHorizontalDivider(dividerWidth, "─"),
			renderFields(h.Params, "", HeaderParamKeyStyle, HeaderParamValueStyle),
		)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

// HeaderConfig is a convenience type for creating headers
type HeaderConfig struct {
	Title   string
	Command string
	Params  []Field
}

// RenderCommandHeader renders a header directly
func RenderCommandHeader(config HeaderConfig) string {
	return NewHeader(config.Title, config.Command, config.Params).Render()
}
