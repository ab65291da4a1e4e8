// Package cache defines the local snapshot cache and its backends.
package cache

import (
	"context"
	"encoding/json"

	"github.com/stevemurr/library-sync/model"
)

// Cache is the durable local store of scope snapshots. It mirrors remote
// state for fast startup but is never authoritative; callers must treat a
// miss or an error as "go ask the remote".
type Cache interface {
	// Get returns the snapshot cached for scope, or nil if there is none.
	Get(ctx context.Context, scope string) (*model.Snapshot, error)

	// Set stores or replaces the snapshot for scope.
	Set(ctx context.Context, scope string, snap *model.Snapshot) error

	// Invalidate removes the snapshot for scope. Missing entries are not an error.
	Invalidate(ctx context.Context, scope string) error

	// Clear removes every cached snapshot.
	Clear(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

func encode(snap *model.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// decode returns nil for corrupt entries so they read as a miss.
func decode(data []byte) *model.Snapshot {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	if snap.Members == nil {
		snap.Members = map[string][]string{}
	}
	return &snap
}
