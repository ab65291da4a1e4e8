// Package model defines the library workspace records shared by the cache,
// the reconciler, the remote client and the reference server.
package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemporaryPrefix marks ids synthesized locally before the remote assigns one.
const TemporaryPrefix = "tmp-"

// Collection is a named grouping of catalog items inside a workspace.
type Collection struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	Color       string    `json:"color,omitempty"`
	OrderIndex  int       `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionDraft carries the fields accepted when creating a collection.
type CollectionDraft struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`
}

// CollectionPatch is a partial update. Nil fields are left unchanged.
type CollectionPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Tags        *string `json:"tags,omitempty"`
	Color       *string `json:"color,omitempty"`
	OrderIndex  *int    `json:"order_index,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CollectionPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Tags == nil && p.Color == nil && p.OrderIndex == nil
}

// ApplyTo returns c with the patch applied. UpdatedAt is set to now.
func (p CollectionPatch) ApplyTo(c Collection, now time.Time) Collection {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.OrderIndex != nil {
		c.OrderIndex = *p.OrderIndex
	}
	c.UpdatedAt = now
	return c
}

// NewTemporaryID returns an id suitable for an optimistic record.
func NewTemporaryID() string {
	return TemporaryPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was produced by NewTemporaryID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryPrefix)
}

// Less orders collections by order index, then creation time, then id.
func Less(a, b Collection) bool {
	if a.OrderIndex != b.OrderIndex {
		return a.OrderIndex < b.OrderIndex
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortCollections sorts cs in place into the canonical total order.
func SortCollections(cs []Collection) {
	sort.SliceStable(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })
}

// NextOrderIndex returns one past the largest order index in cs, or 0.
func NextOrderIndex(cs []Collection) int {
	next := 0
	for _, c := range cs {
		if c.OrderIndex >= next {
			next = c.OrderIndex + 1
		}
	}
	return next
}

// DedupeIDs returns ids with duplicates and empty strings removed, keeping
// the first occurrence of each id. The result is never nil.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
