// Package graph holds the live structure of a Miniserver: controls, rooms,
// categories and per-control states.
//
// The graph is an arena keyed by identifier. It is reconciled in place
// against each structure file the Miniserver sends, using a mark and sweep
// merge, so that objects present in consecutive snapshots keep their
// identity and their listeners.
package graph

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/protocol"
)

// StateRef pairs a state with the control that exposes it.
type StateRef struct {
	Control *Control
	State   *State
}

// MergeStats summarizes one reconciliation.
type MergeStats struct {
	Added   int
	Updated int
	Removed int
	Skipped int
}

// Graph is the structural model of one Miniserver
type Graph struct {
	registry Registry

	mu         sync.RWMutex
	info       *protocol.MsInfo
	rooms      map[ident.Key]*Container
	categories map[ident.Key]*Container
	controls   map[ident.Key]*Control
	index      map[ident.Key][]StateRef
}

// New creates an empty graph that builds controls from reg.
func New(reg Registry) *Graph {
	return &Graph{
		registry:   reg,
		rooms:      make(map[ident.Key]*Container),
		categories: make(map[ident.Key]*Container),
		controls:   make(map[ident.Key]*Control),
		index:      make(map[ident.Key][]StateRef),
	}
}

// Merge reconciles the graph with a fresh structure file.
func (g *Graph) Merge(cfg *protocol.AppConfig) MergeStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stats MergeStats
	g.markStale()
	g.info = cfg.MsInfo

	for key, info := range cfg.Rooms {
		g.mergeContainer(g.rooms, key, info, false)
	}
	for key, info := range cfg.Categories {
		g.mergeContainer(g.categories, key, info, true)
	}
	for _, key := range sortedKeys(cfg.Controls) {
		g.mergeControl(key, cfg.Controls[key], nil, &stats)
	}

	stats.Removed = g.sweep()
	g.rebuildIndex()
	return stats
}

func (g *Graph) markStale() {
	for _, r := range g.rooms {
		r.touched = false
	}
	for _, c := range g.categories {
		c.touched = false
	}
	for _, ctl := range g.controls {
		ctl.touched = false
		for _, st := range ctl.states {
			st.touched = false
		}
	}
}

func (g *Graph) mergeContainer(set map[ident.Key]*Container, key string, info protocol.Container, isCategory bool) {
	raw := info.UUID
	if raw == "" {
		raw = key
	}
	id := ident.Parse(raw)
	c, ok := set[id.Key()]
	if !ok {
		c = newContainer(id)
		set[id.Key()] = c
	}
	t := CategoryUndefined
	if isCategory {
		t = ParseCategoryType(info.TypeString())
	}
	c.update(info.Name, t)
	c.touched = true
}

func (g *Graph) mergeControl(key string, info protocol.ControlInfo, parent *Control, stats *MergeStats) *Control {
	raw := info.UUIDAction
	if raw == "" {
		raw = key
	}
	id := ident.Parse(raw)

	ctor, ok := g.registry.Lookup(info.Type)
	if !ok {
		logging.Debug("Skipping control of unsupported type",
			zap.String("control", raw),
			zap.String("type", info.Type),
		)
		stats.Skipped++
		return nil
	}

	ctl, exists := g.controls[id.Key()]
	if exists && !strings.EqualFold(ctl.Type(), info.Type) {
		// sub-controls stay in the graph; the replacement re-adopts those
		// still listed and the sweep removes the rest
		g.detach(ctl)
		exists = false
	}
	if !exists {
		ctl = newControl(id, ctor())
		g.controls[id.Key()] = ctl
		stats.Added++
	} else {
		stats.Updated++
	}
	ctl.touched = true

	room := keyOf(info.Room)
	category := keyOf(info.Category)
	var parentKey ident.Key
	if parent != nil {
		parentKey = parent.id.Key()
		if room == "" {
			room = parent.Room()
		}
		if category == "" {
			category = parent.Category()
		}
	}

	ctl.mu.Lock()
	ctl.name = info.Name
	ctl.typ = info.Type
	ctl.details = info.Details
	ctl.parent = parentKey
	oldRoom, oldCategory := ctl.room, ctl.category
	ctl.room, ctl.category = room, category
	ctl.mu.Unlock()

	g.moveMembership(g.rooms, ctl.id.Key(), oldRoom, room)
	g.moveMembership(g.categories, ctl.id.Key(), oldCategory, category)
	g.mergeStates(ctl, info)

	children := make(map[ident.Key]*Control, len(info.SubControls))
	for _, subKey := range sortedKeys(info.SubControls) {
		if child := g.mergeControl(subKey, info.SubControls[subKey], ctl, stats); child != nil {
			children[child.id.Key()] = child
		}
	}
	ctl.mu.Lock()
	ctl.children = children
	ctl.mu.Unlock()

	return ctl
}

func (g *Graph) mergeStates(ctl *Control, info protocol.ControlInfo) {
	refs, err := info.StateRefs()
	if err != nil {
		logging.Warn("Ignoring malformed control states",
			zap.String("control", ctl.id.Original()),
			zap.Error(err),
		)
		return
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	byID := make(map[ident.Key]*State, len(ctl.states))
	for _, st := range ctl.states {
		byID[st.id.Key()] = st
	}

	states := make(map[string]*State, len(refs))
	for _, ref := range refs {
		sid := ident.Parse(ref.ID)
		st, ok := byID[sid.Key()]
		if ok {
			if st.Name() != ref.Name {
				st.setName(ref.Name)
			}
		} else {
			st = newState(sid, ctl.id.Key(), ref.Name)
		}
		st.touched = true
		states[strings.ToLower(ref.Name)] = st
	}
	for _, st := range ctl.states {
		if !st.touched {
			st.clearListeners()
		}
	}
	ctl.states = states
}

func (g *Graph) moveMembership(set map[ident.Key]*Container, ctl, from, to ident.Key) {
	if from == to {
		if c, ok := set[to]; ok {
			c.add(ctl)
		}
		return
	}
	if c, ok := set[from]; ok {
		c.remove(ctl)
	}
	if c, ok := set[to]; ok {
		c.add(ctl)
	}
}

func (g *Graph) sweep() int {
	removed := 0
	for _, ctl := range g.controls {
		if !ctl.touched && !ctl.Disposed() {
			removed += g.disposeControl(ctl)
		}
	}
	for k, r := range g.rooms {
		if !r.touched {
			delete(g.rooms, k)
		}
	}
	for k, c := range g.categories {
		if !c.touched {
			delete(g.categories, k)
		}
	}
	return removed
}

// disposeControl removes the control and its untouched sub-controls from the
// graph and detaches them from their containers. It returns the number of
// controls removed.
func (g *Graph) disposeControl(ctl *Control) int {
	children, ok := g.detach(ctl)
	if !ok {
		return 0
	}
	removed := 1
	for _, child := range children {
		if !child.touched {
			removed += g.disposeControl(child)
		}
	}
	return removed
}

// detach disposes a single control and returns its sub-controls, which stay
// in the graph. It reports false when the control was already disposed.
func (g *Graph) detach(ctl *Control) (map[ident.Key]*Control, bool) {
	key := ctl.id.Key()
	ctl.mu.Lock()
	if ctl.disposed {
		ctl.mu.Unlock()
		return nil, false
	}
	ctl.disposed = true
	room, category := ctl.room, ctl.category
	children := ctl.children
	states := ctl.states
	ctl.children = make(map[ident.Key]*Control)
	ctl.mu.Unlock()

	if r, ok := g.rooms[room]; ok {
		r.remove(key)
	}
	if c, ok := g.categories[category]; ok {
		c.remove(key)
	}
	for _, st := range states {
		st.clearListeners()
	}
	if d, ok := ctl.behavior.(Disposer); ok {
		d.Dispose(ctl)
	}
	if g.controls[key] == ctl {
		delete(g.controls, key)
	}
	return children, true
}

func (g *Graph) rebuildIndex() {
	index := make(map[ident.Key][]StateRef)
	for _, key := range sortedKeys(g.controls) {
		ctl := g.controls[key]
		for _, st := range ctl.States() {
			index[st.id.Key()] = append(index[st.id.Key()], StateRef{Control: ctl, State: st})
		}
	}
	g.index = index
}

// Apply routes a decoded state update to every (control, state) pair
// registered under its identifier. Listeners of changed states run before
// Apply returns. The matched pairs are returned; nil means the identifier is
// unknown.
func (g *Graph) Apply(u protocol.StateUpdate) []StateRef {
	g.mu.RLock()
	refs := append([]StateRef(nil), g.index[u.ID.Key()]...)
	g.mu.RUnlock()

	v := NumberValue(u.Value)
	if u.IsText {
		v = TextValue(u.Text)
	}
	for _, ref := range refs {
		ref.State.Set(v)
	}
	return refs
}

// StatesFor returns the pairs registered under a state identifier.
func (g *Graph) StatesFor(id ident.ID) []StateRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]StateRef(nil), g.index[id.Key()]...)
}

// Control returns a control by identifier, or nil.
func (g *Graph) Control(id ident.ID) *Control {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.controls[id.Key()]
}

// Controls returns every control, sub-controls included, sorted by key.
func (g *Graph) Controls() []*Control {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Control, 0, len(g.controls))
	for _, key := range sortedKeys(g.controls) {
		out = append(out, g.controls[key])
	}
	return out
}

// Room returns a room by key, or nil.
func (g *Graph) Room(key ident.Key) *Container {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[key]
}

// Category returns a category by key, or nil.
func (g *Graph) Category(key ident.Key) *Container {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.categories[key]
}

// Rooms returns all rooms sorted by key.
func (g *Graph) Rooms() []*Container {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedContainers(g.rooms)
}

// Categories returns all categories sorted by key.
func (g *Graph) Categories() []*Container {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedContainers(g.categories)
}

// Info returns the Miniserver description of the last structure file.
func (g *Graph) Info() *protocol.MsInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info
}

// Dispose tears the whole graph down.
func (g *Graph) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markStale()
	g.sweep()
	g.index = make(map[ident.Key][]StateRef)
	g.info = nil
}

func keyOf(raw string) ident.Key {
	if raw == "" {
		return ""
	}
	return ident.Parse(raw).Key()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedContainers(m map[ident.Key]*Container) []*Container {
	out := make([]*Container, 0, len(m))
	for _, key := range sortedKeys(m) {
		out = append(out, m[key])
	}
	return out
}
