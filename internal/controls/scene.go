package controls

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/muurk/loxone/internal/graph"
)

// Mood is one entry of a light controller's mood list.
type Mood struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// LightControllerV2 switches between moods. Its "moodList" and
// "activeMoods" states carry JSON text.
type LightControllerV2 struct{}

// Moods decodes the current mood list, sorted by id.
func (LightControllerV2) Moods(c *graph.Control) []Mood {
	raw, ok := c.Text("moodList")
	if !ok {
		return nil
	}
	var moods []Mood
	if err := json.Unmarshal([]byte(raw), &moods); err != nil {
		return nil
	}
	sort.Slice(moods, func(i, j int) bool { return moods[i].ID < moods[j].ID })
	return moods
}

// Active decodes the ids of the active moods.
func (LightControllerV2) Active(c *graph.Control) []int {
	raw, ok := c.Text("activeMoods")
	if !ok {
		return nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func (l LightControllerV2) Format(c *graph.Control) string {
	active := l.Active(c)
	if len(active) == 0 {
		return "unknown"
	}
	names := make(map[int]string)
	for _, m := range l.Moods(c) {
		names[m.ID] = m.Name
	}
	parts := make([]string, 0, len(active))
	for _, id := range active {
		if n, ok := names[id]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, strconv.Itoa(id))
		}
	}
	return strings.Join(parts, ", ")
}

func (l LightControllerV2) Action(c *graph.Control, op string, args ...string) (string, error) {
	switch strings.ToLower(op) {
	case OpPlus:
		return "plus", nil
	case OpMinus:
		return "minus", nil
	case OpOn, OpOff:
		// 778 is the reserved "all off" mood id on the Miniserver; on
		// picks the first configured mood.
		if strings.EqualFold(op, OpOff) {
			return "changeTo/778", nil
		}
		for _, m := range l.Moods(c) {
			if m.ID != 778 {
				return fmt.Sprintf("changeTo/%d", m.ID), nil
			}
		}
		return "", fmt.Errorf("%s %q: no moods configured", TypeLightControllerV2, op)
	case OpMood:
		if len(args) != 1 {
			return "", fmt.Errorf("%s %q: expected a mood id or name", TypeLightControllerV2, op)
		}
		if id, err := strconv.Atoi(args[0]); err == nil {
			return fmt.Sprintf("changeTo/%d", id), nil
		}
		for _, m := range l.Moods(c) {
			if strings.EqualFold(m.Name, args[0]) {
				return fmt.Sprintf("changeTo/%d", m.ID), nil
			}
		}
		return "", fmt.Errorf("%s %q: unknown mood %q", TypeLightControllerV2, op, args[0])
	}
	return "", unsupported(TypeLightControllerV2, op)
}

// Radio selects one of several outputs. The "activeOutput" state is the
// output number, 0 for none.
type Radio struct{}

func (Radio) outputs(c *graph.Control) (map[string]string, string) {
	var d struct {
		AllOff  string            `json:"allOff"`
		Outputs map[string]string `json:"outputs"`
	}
	details(c, &d)
	return d.Outputs, d.AllOff
}

func (r Radio) Format(c *graph.Control) string {
	v, ok := c.Number("activeOutput")
	if !ok {
		return "unknown"
	}
	outputs, allOff := r.outputs(c)
	if v == 0 {
		if allOff != "" {
			return allOff
		}
		return "off"
	}
	key := strconv.Itoa(int(v))
	if name, ok := outputs[key]; ok {
		return name
	}
	return key
}

func (Radio) Action(c *graph.Control, op string, args ...string) (string, error) {
	switch strings.ToLower(op) {
	case OpOff, OpReset:
		return "reset", nil
	case OpSet:
		v, err := number(TypeRadio, op, args)
		if err != nil {
			return "", err
		}
		if v < 0 || v != float64(int(v)) {
			return "", fmt.Errorf("%s %q: output must be a whole number", TypeRadio, op)
		}
		if v == 0 {
			return "reset", nil
		}
		return strconv.Itoa(int(v)), nil
	}
	return "", unsupported(TypeRadio, op)
}
