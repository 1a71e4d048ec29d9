package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestClampWidth(t *testing.T) {
	tests := []struct {
		name  string
		width int
		err   error
		want  int
	}{
		{"not a terminal", 0, errors.New("inappropriate ioctl"), MinTerminalWidth},
		{"narrow", 40, nil, MinTerminalWidth},
		{"normal", 80, nil, 80},
		{"wide", 300, nil, MaxContentWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampWidth(tt.width, tt.err); got != tt.want {
				t.Errorf("clampWidth(%d) = %d, want %d", tt.width, got, tt.want)
			}
		})
	}
}

func TestHeaderRender(t *testing.T) {
	out := NewHeader("controls", "loxctl controls", []Field{
		{Key: "Miniserver", Value: "192.168.1.77"},
		{Key: "User", Value: "admin"},
	}).SetWidth(80).Render()

	for _, want := range []string{"CONTROLS", "loxctl controls", "Miniserver:", "192.168.1.77", "admin"} {
		if !strings.Contains(out, want) {
			t.Errorf("header missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Miniserver:") > strings.Index(out, "User:") {
		t.Errorf("header params out of order:\n%s", out)
	}
}

func TestProgressSteps(t *testing.T) {
	p := NewProgress("Connecting...", ConnectSteps)
	if p.Total() != 3 {
		t.Fatalf("Total() = %d, want 3", p.Total())
	}

	p.StartStep(1, "")
	if p.Current != 1 {
		t.Errorf("Current = %d, want 1", p.Current)
	}
	p.CompleteStep(1, "")
	p.CompleteStep(2, "12 controls")
	if p.Percent < 0.66 || p.Percent > 0.67 {
		t.Errorf("Percent = %v, want 2/3", p.Percent)
	}

	p.UpdateStep(9, StepFailed, "ignored")
	if p.Failed() {
		t.Error("Failed() = true after out of range update")
	}

	p.FailStep(3, "timeout")
	if !p.Failed() {
		t.Error("Failed() = false, want true")
	}

	out := p.Render()
	for _, want := range []string{"Connecting...", "12 controls", "(timeout)", "[3/3]"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress missing %q:\n%s", want, out)
		}
	}
}

func TestSkipRemaining(t *testing.T) {
	p := NewProgress("", ConnectSteps)
	p.FailStep(1, "refused")
	p.SkipRemaining("not reached")
	for _, s := range p.Steps[1:] {
		if s.Status != StepSkipped {
			t.Errorf("step %d status = %v, want skipped", s.Number, s.Status)
		}
	}
	if p.Steps[0].Status != StepFailed {
		t.Errorf("step 1 status = %v, want failed", p.Steps[0].Status)
	}
}

func TestResultRender(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   []string
	}{
		{
			name:   "success",
			result: NewSuccessResult("Command sent", Field{Key: "Control", Value: "Kitchen"}),
			want:   []string{"SUCCESS", "Command sent", "Control:", "Kitchen"},
		},
		{
			name:   "failure",
			result: NewFailureResult("Command failed", errors.New("code 500"), []string{"Check the user's rights"}),
			want:   []string{"FAILED", "Error: code 500", "Troubleshooting:", "Check the user's rights"},
		},
		{
			name:   "warning",
			result: NewWarningResult("Partial").AddDetail("Skipped", "3"),
			want:   []string{"WARNING", "Skipped:", "3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.result.SetWidth(80).Render()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("result missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRenderControls(t *testing.T) {
	out := RenderControls([]ControlRow{
		{Room: "Kitchen", Name: "Ceiling", Type: "Switch", Value: "on", ID: "0b734138-03ac-03c0-ffffeee000240011"},
		{Name: "Orphan", Type: "TextState", Value: "idle", ID: "0b734138-03ac-03c0-ffffeee000240012"},
		{Room: "bath", Name: "Mirror", Type: "Dimmer", Value: "40", ID: "0b734138-03ac-03c0-ffffeee000240013"},
	})

	bath := strings.Index(out, "bath")
	kitchen := strings.Index(out, "Kitchen")
	orphan := strings.Index(out, noRoom)
	if bath < 0 || kitchen < 0 || orphan < 0 {
		t.Fatalf("missing room titles:\n%s", out)
	}
	if !(bath < kitchen && kitchen < orphan) {
		t.Errorf("rooms out of order (bath=%d kitchen=%d none=%d):\n%s", bath, kitchen, orphan, out)
	}
	for _, want := range []string{"Ceiling", "Mirror", "Orphan", "40", "idle"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q", want)
		}
	}

	if got := RenderControls(nil); !strings.Contains(got, "No controls") {
		t.Errorf("RenderControls(nil) = %q", got)
	}
}

func TestRenderMiniservers(t *testing.T) {
	out := RenderMiniservers([]MiniserverRow{
		{Serial: "504F94000001", Name: "Home", Address: "192.168.1.77:80", Known: true},
	})
	for _, want := range []string{"504F94000001", "Home", "192.168.1.77:80", "known"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
