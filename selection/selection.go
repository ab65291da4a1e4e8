// Package selection tracks which items the user has selected in a list.
// Selections live in memory only.
package selection

import (
	"sort"
	"sync"
)

// Entry is a selected item and the context it was selected in.
type Entry[T any] struct {
	ID     string
	Item   T
	Parent string
}

// Set maps item ids to entries. The zero value is ready to use and safe
// for concurrent use.
type Set[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
}

// Toggle selects id if it is not selected and deselects it otherwise.
// It returns whether id is selected afterwards.
func (s *Set[T]) Toggle(id string, item T, parent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		return false
	}
	s.putLocked(id, item, parent)
	return true
}

// Select adds id, replacing any previous entry.
func (s *Set[T]) Select(id string, item T, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(id, item, parent)
}

func (s *Set[T]) putLocked(id string, item T, parent string) {
	if s.entries == nil {
		s.entries = make(map[string]Entry[T])
	}
	s.entries[id] = Entry[T]{ID: id, Item: item, Parent: parent}
}

// Deselect removes id. It reports whether id was selected.
func (s *Set[T]) Deselect(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

func (s *Set[T]) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// IsSelectedIn reports whether id is selected within parent.
func (s *Set[T]) IsSelectedIn(id, parent string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.Parent == parent
}

// Get returns the entry for id.
func (s *Set[T]) Get(id string) (Entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns every entry sorted by id.
func (s *Set[T]) Entries() []Entry[T] {
	s.mu.RLock()
	out := make([]Entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the selected ids sorted.
func (s *Set[T]) IDs() []string {
	entries := s.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// InParent returns the entries selected within parent, sorted by id.
func (s *Set[T]) InParent(parent string) []Entry[T] {
	var out []Entry[T]
	for _, e := range s.Entries() {
		if e.Parent == parent {
			out = append(out, e)
		}
	}
	return out
}

// Clear deselects everything.
func (s *Set[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
