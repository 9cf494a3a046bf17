// Package labels maps model class ids to human-readable names.
package labels

import (
	"fmt"
	"sort"
)

var actionNames = []string{
	"Are", "Can", "Come", "Dont", "Going", "Hello", "Help",
	"Here", "How", "I", "Name", "Need", "Please", "Thanks",
	"This", "Today", "Understand", "What", "Where", "You", "Your",
}

// Map is an immutable class id -> name table.
type Map struct {
	names map[int]string
}

// Actions returns the 21-sign action vocabulary (ids 0..20).
func Actions() Map {
	return FromList(actionNames)
}

// NewMap copies names so later changes to the argument are not observed.
func NewMap(names map[int]string) Map {
	m := Map{names: make(map[int]string, len(names))}
	for id, name := range names {
		m.names[id] = name
	}
	return m
}

// FromList indexes names by position.
func FromList(names []string) Map {
	m := Map{names: make(map[int]string, len(names))}
	for i, name := range names {
		m.names[i] = name
	}
	return m
}

// Name returns the label for id, or unknown_<id>.
func (m Map) Name(id int) string {
	if name, ok := m.names[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", id)
}

func (m Map) Lookup(id int) (string, bool) {
	name, ok := m.names[id]
	return name, ok
}

func (m Map) Len() int {
	return len(m.names)
}

// Sorted returns names ordered by class id.
func (m Map) Sorted() []string {
	ids := make([]int, 0, len(m.names))
	for id := range m.names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.names[id])
	}
	return out
}

// Index returns id -> name as a fresh map, for JSON responses.
func (m Map) Index() map[int]string {
	out := make(map[int]string, len(m.names))
	for id, name := range m.names {
		out[id] = name
	}
	return out
}

// ID is the inverse of Name: it finds the id for name, including the
// unknown_<id> fallback form.
func (m Map) ID(name string) (int, bool) {
	for id, n := range m.names {
		if n == name {
			return id, true
		}
	}
	var id int
	if _, err := fmt.Sscanf(name, "unknown_%d", &id); err == nil && fmt.Sprintf("unknown_%d", id) == name {
		return id, true
	}
	return 0, false
}
