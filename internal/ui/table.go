package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// ControlRow is one control as shown by loxctl controls.
type ControlRow struct {
	Room  string
	Name  string
	Type  string
	Value string
	ID    string
}

// MiniserverRow is one discovery result.
type MiniserverRow struct {
	Serial  string
	Name    string
	Address string
	Known   bool
}

const noRoom = "(no room)"

// RenderControls renders controls grouped by room. Rooms are sorted by name,
// controls within a room keep their order.
func RenderControls(rows []ControlRow) string {
	if len(rows) == 0 {
		return StepPendingStyle.Render("  No controls")
	}

	groups := make(map[string][]ControlRow)
	var rooms []string
	for _, r := range rows {
		room := r.Room
		if room == "" {
			room = noRoom
		}
		if _, ok := groups[room]; !ok {
			rooms = append(rooms, room)
		}
		groups[room] = append(groups[room], r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		// keep controls without a room at the end
		if (rooms[i] == noRoom) != (rooms[j] == noRoom) {
			return rooms[j] == noRoom
		}
		return strings.ToLower(rooms[i]) < strings.ToLower(rooms[j])
	})

	sections := make([]string, 0, len(rooms))
	for _, room := range rooms {
		t := newTable("Name", "Type", "Value", "ID")
		for _, r := range groups[room] {
			t.Row(r.Name, r.Type, r.Value, r.ID)
		}
		sections = append(sections, RoomTitleStyle.Render(room)+"\n"+t.Render())
	}
	return strings.Join(sections, "\n\n")
}

// RenderMiniservers renders discovery results.
func RenderMiniservers(rows []MiniserverRow) string {
	if len(rows) == 0 {
		return StepPendingStyle.Render("  No Miniservers found")
	}
	t := newTable("Serial", "Name", "Address", "")
	for _, r := range rows {
		known := ""
		if r.Known {
			known = "known"
		}
		t.Row(r.Serial, r.Name, r.Address, known)
	}
	return t.Render()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(MutedColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle.Padding(0, 1)
			}
			return TableCellStyle.Padding(0, 1)
		})
}
