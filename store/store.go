// Package store defines the library server's record store and its backends.
package store

import (
	"errors"
	"time"

	"github.com/stevemurr/library-sync/model"
)

// ErrNoCollection is returned by member writes for a collection that does
// not exist.
var ErrNoCollection = errors.New("store: collection does not exist")

// Store is the interface that all record stores must implement. It holds
// the collections of every workspace and each collection's member ids.
type Store interface {
	// ListCollections returns the collections of a workspace in canonical order.
	ListCollections(workspace string) ([]model.Collection, error)

	// GetCollection returns a collection by id, or nil if not found.
	GetCollection(id string) (*model.Collection, error)

	// CreateCollection inserts c, assigning the next order index of its workspace.
	CreateCollection(c model.Collection) (model.Collection, error)

	// UpdateCollection applies patch. Returns nil if the collection does not exist.
	UpdateCollection(id string, patch model.CollectionPatch, now time.Time) (*model.Collection, error)

	// DeleteCollection removes a collection and its members. Returns true if it existed.
	DeleteCollection(id string) (bool, error)

	// Members returns the member ids of a collection in insertion order.
	Members(id string) ([]string, error)

	// AddMembers adds ids not already present. Returns how many were added,
	// or ErrNoCollection.
	AddMembers(id string, ids []string) (int, error)

	// RemoveMembers removes ids. Returns how many were removed, or ErrNoCollection.
	RemoveMembers(id string, ids []string) (int, error)
}
