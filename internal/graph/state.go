package graph

import (
	"math"
	"sync"

	"github.com/muurk/loxone/internal/ident"
)

// Value is a partial state update. Nil fields leave the stored value alone.
type Value struct {
	Number *float64
	Text   *string
}

// NumberValue builds a numeric update.
func NumberValue(v float64) Value { return Value{Number: &v} }

// TextValue builds a text update.
func TextValue(s string) Value { return Value{Text: &s} }

type stateListener struct {
	id int
	fn func(*State)
}

// State is a named value owned by exactly one control.
type State struct {
	id      ident.ID
	control ident.Key

	mu        sync.RWMutex
	name      string
	number    float64
	hasNumber bool
	text      string
	hasText   bool
	listeners []stateListener
	nextID    int

	touched bool
}

func newState(id ident.ID, control ident.Key, name string) *State {
	return &State{id: id, control: control, name: name, touched: true}
}

// ID returns the state identifier.
func (s *State) ID() ident.ID { return s.id }

// ControlKey returns the key of the owning control.
func (s *State) ControlKey() ident.Key { return s.control }

// Name returns the state name as the configuration spells it.
func (s *State) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *State) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Number returns the last numeric value.
func (s *State) Number() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.number, s.hasNumber
}

// Text returns the last text value.
func (s *State) Text() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text, s.hasText
}

// Set stores the value and notifies listeners if either part changed. It
// reports whether a notification happened.
func (s *State) Set(v Value) bool {
	s.mu.Lock()
	changed := false
	if v.Number != nil && (!s.hasNumber || math.Float64bits(s.number) != math.Float64bits(*v.Number)) {
		s.number = *v.Number
		s.hasNumber = true
		changed = true
	}
	if v.Text != nil && (!s.hasText || s.text != *v.Text) {
		s.text = *v.Text
		s.hasText = true
		changed = true
	}
	var listeners []stateListener
	if changed {
		listeners = append(listeners, s.listeners...)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
	return changed
}

// AddListener registers fn to be called after every change. Listeners run
// in registration order on the goroutine that applied the update. The
// returned function removes the listener.
func (s *State) AddListener(fn func(*State)) (remove func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, stateListener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (s *State) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *State) clearListeners() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}
