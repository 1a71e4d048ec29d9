package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/muurk/loxone/internal/ident"
)

// CategoryType is the closed set of category kinds
type CategoryType int

const (
	CategoryUndefined CategoryType = iota
	CategoryLights
	CategoryShading
)

// ParseCategoryType maps the controller's category type case-insensitively.
func ParseCategoryType(s string) CategoryType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lights":
		return CategoryLights
	case "shading":
		return CategoryShading
	default:
		return CategoryUndefined
	}
}

// String returns the category type name
func (t CategoryType) String() string {
	switch t {
	case CategoryLights:
		return "LIGHTS"
	case CategoryShading:
		return "SHADING"
	default:
		return "UNDEFINED"
	}
}

// Container is a room or a category. Membership is a back-reference; the
// container does not own its controls.
type Container struct {
	id ident.ID

	mu      sync.RWMutex
	name    string
	catType CategoryType
	members map[ident.Key]struct{}

	touched bool
}

func newContainer(id ident.ID) *Container {
	return &Container{id: id, members: make(map[ident.Key]struct{}), touched: true}
}

// ID returns the container identifier.
func (c *Container) ID() ident.ID { return c.id }

// Name returns the display name.
func (c *Container) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Type returns the category type. Rooms are always CategoryUndefined.
func (c *Container) Type() CategoryType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catType
}

// Has reports whether the control is a member.
func (c *Container) Has(key ident.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[key]
	return ok
}

// Members returns the member keys in sorted order.
func (c *Container) Members() []ident.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ident.Key, 0, len(c.members))
	for k := range c.members {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Container) update(name string, t CategoryType) {
	c.mu.Lock()
	c.name = name
	c.catType = t
	c.mu.Unlock()
}

func (c *Container) add(key ident.Key) {
	c.mu.Lock()
	c.members[key] = struct{}{}
	c.mu.Unlock()
}

func (c *Container) remove(key ident.Key) {
	c.mu.Lock()
	delete(c.members, key)
	c.mu.Unlock()
}
