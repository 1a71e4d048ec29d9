package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// AppConfig is the structure file returned for data/LoxAPP3.json
type AppConfig struct {
	LastModified string                 `json:"lastModified"`
	MsInfo       *MsInfo                `json:"msInfo"`
	Rooms        map[string]Container   `json:"rooms"`
	Categories   map[string]Container   `json:"cats"`
	Controls     map[string]ControlInfo `json:"controls"`
}

// MsInfo describes the Miniserver itself. SoftwareVersion and MACAddress are
// not part of the document; they are filled from the pre-connect probe.
type MsInfo struct {
	SerialNr        string `json:"serialNr"`
	MsName          string `json:"msName"`
	ProjectName     string `json:"projectName"`
	Location        string `json:"location"`
	LanguageCode    string `json:"languageCode"`
	SoftwareVersion string `json:"-"`
	MACAddress      string `json:"-"`
}

// Container is a room or category entry
type Container struct {
	UUID string          `json:"uuid"`
	Name string          `json:"name"`
	Type json.RawMessage `json:"type,omitempty"`
}

// TypeString returns the container type when it is a string. Rooms carry a
// numeric type which is of no interest here.
func (c Container) TypeString() string {
	var s string
	if err := json.Unmarshal(c.Type, &s); err != nil {
		return ""
	}
	return s
}

// ControlInfo is a control entry, possibly with sub-controls
type ControlInfo struct {
	UUIDAction  string                     `json:"uuidAction"`
	Name        string                     `json:"name"`
	Type        string                     `json:"type"`
	Room        string                     `json:"room"`
	Category    string                     `json:"cat"`
	States      map[string]json.RawMessage `json:"states"`
	SubControls map[string]ControlInfo     `json:"subControls"`
	Details     json.RawMessage            `json:"details,omitempty"`
}

// StateRef is one named state identifier of a control. Array valued states
// expand to name[0], name[1], ...
type StateRef struct {
	Name string
	ID   string
}

// StateRefs flattens the control's states, sorted by name for stable merges.
func (c ControlInfo) StateRefs() ([]StateRef, error) {
	refs := make([]StateRef, 0, len(c.States))
	for name, raw := range c.States {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '"':
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				return nil, fmt.Errorf("state %s: %w", name, err)
			}
			refs = append(refs, StateRef{Name: name, ID: id})
		case '[':
			var ids []string
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, fmt.Errorf("state %s: %w", name, err)
			}
			for i, id := range ids {
				refs = append(refs, StateRef{Name: fmt.Sprintf("%s[%d]", name, i), ID: id})
			}
		default:
			return nil, fmt.Errorf("state %s: unexpected value %s", name, string(raw))
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// ErrNotStructureFile is returned by ParseAppConfig for valid JSON that is
// not a structure file, such as a command reply.
var ErrNotStructureFile = errors.New("not a structure file")

// ParseAppConfig decodes a structure file. Command reply envelopes and
// documents with neither lastModified nor controls are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var head struct {
		LL           json.RawMessage `json:"LL"`
		LastModified *string         `json:"lastModified"`
		Controls     json.RawMessage `json:"controls"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse structure file: %w", err)
	}
	if head.LL != nil {
		return nil, fmt.Errorf("%w: command reply envelope", ErrNotStructureFile)
	}
	if head.LastModified == nil && head.Controls == nil {
		return nil, fmt.Errorf("%w: no lastModified or controls", ErrNotStructureFile)
	}

	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse structure file: %w", err)
	}
	return &cfg, nil
}
