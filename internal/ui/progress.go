package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// ConnectSteps names the phases of bringing a Miniserver session up.
var ConnectSteps = []string{
	"Connect and authenticate",
	"Load structure file",
	"Enable status updates",
}

// Step is a single phase of a multi-step operation
type Step struct {
	Number  int // 1-based
	Name    string
	Status  StepStatus
	Message string // Optional note (e.g., "142 controls")
}

// Progress is a step list with a bar showing overall completion.
type Progress struct {
	Label     string
	Steps     []Step
	Current   int // 1-based, 0 before the first step starts
	Percent   float64
	Width     int
	ShowBar   bool
	ShowSteps bool
	bar       progress.Model
}

// NewProgress creates a progress display with one pending step per name.
func NewProgress(label string, names []string) *Progress {
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Number: i + 1, Name: name}
	}
	p := &Progress{
		Label:     label,
		Steps:     steps,
		ShowBar:   true,
		ShowSteps: true,
	}
	return p.SetWidth(GetTerminalWidth())
}

// SetWidth sets the rendering width and resizes the bar to fit
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithGradient(string(PrimaryColor), string(SuccessColor)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	return p
}

// Total returns the number of steps
func (p *Progress) Total() int { return len(p.Steps) }

// UpdateStep updates a step's status and note. Unknown step numbers are
// ignored.
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	step := &p.Steps[stepNumber-1]
	step.Status = status
	step.Message = message

	if status == StepRunning {
		p.Current = stepNumber
		return
	}
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete || s.Status == StepSkipped {
			done++
		}
	}
	p.Percent = float64(done) / float64(len(p.Steps))
}

// StartStep marks a step as running
func (p *Progress) StartStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepRunning, message)
}

// CompleteStep marks a step as complete
func (p *Progress) CompleteStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepComplete, message)
}

// FailStep marks a step as failed
func (p *Progress) FailStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepFailed, message)
}

// SkipRemaining marks every pending step as skipped.
func (p *Progress) SkipRemaining(message string) {
	for i := range p.Steps {
		if p.Steps[i].Status == StepPending {
			p.Steps[i].Status = StepSkipped
			p.Steps[i].Message = message
		}
	}
}

// Failed reports whether any step failed
func (p *Progress) Failed() bool {
	for _, s := range p.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Render returns the styled progress display
func (p *Progress) Render() string {
	var b strings.Builder
	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}
	if p.ShowBar {
		b.WriteString(p.renderProgressBar())
		b.WriteString("\n\n")
	}
	if p.ShowSteps {
		lines := make([]string, 0, len(p.Steps))
		for _, step := range p.Steps {
			lines = append(lines, p.renderStepLine(step))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}

func (p *Progress) renderProgressBar() string {
	line := fmt.Sprintf("%s  %3.0f%%  [%d/%d]",
		p.bar.ViewAs(p.Percent), p.Percent*100, p.Current, len(p.Steps))
	return lipgloss.NewStyle().PaddingLeft(2).Render(line)
}

func (p *Progress) renderStepLine(step Step) string {
	var marker string
	var style lipgloss.Style
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", step.Number, len(p.Steps)))
	b.WriteString(style.Render(step.Name))

	// markers line up in one column
	padding := 32 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
