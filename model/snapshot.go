package model

import (
	"fmt"
	"time"

	"github.com/mitchellh/copystructure"
)

// Snapshot is the full state of one scope: every collection plus every
// membership list. It is what the local cache stores.
type Snapshot struct {
	Scope       string              `json:"scope"`
	Collections []Collection        `json:"collections"`
	Members     map[string][]string `json:"members"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// NewSnapshot returns an empty snapshot for scope.
func NewSnapshot(scope string) Snapshot {
	return Snapshot{
		Scope:       scope,
		Collections: []Collection{},
		Members:     map[string][]string{},
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	v, err := copystructure.Copy(s)
	if err != nil {
		// copystructure only fails on unsupported kinds; Snapshot has none.
		panic(fmt.Sprintf("model: clone snapshot: %v", err))
	}
	return v.(Snapshot)
}

// Normalize returns s with collections in canonical order, every member
// list deduplicated, and membership of unknown collections dropped.
func (s Snapshot) Normalize() Snapshot {
	if s.Collections == nil {
		s.Collections = []Collection{}
	}
	SortCollections(s.Collections)

	members := make(map[string][]string, len(s.Collections))
	for _, c := range s.Collections {
		members[c.ID] = DedupeIDs(s.Members[c.ID])
	}
	s.Members = members
	return s
}

// Collection returns the collection with id.
func (s Snapshot) Collection(id string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// IndexOf returns the position of collection id, or -1.
func (s Snapshot) IndexOf(id string) int {
	for i, c := range s.Collections {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// HasMember reports whether memberID belongs to collection id.
func (s Snapshot) HasMember(id, memberID string) bool {
	for _, m := range s.Members[id] {
		if m == memberID {
			return true
		}
	}
	return false
}

// CollectionsNamed returns the collections whose name equals name.
func (s Snapshot) CollectionsNamed(name string) []Collection {
	var out []Collection
	for _, c := range s.Collections {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
