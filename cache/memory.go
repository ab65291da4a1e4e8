package cache

import (
	"context"
	"sync"

	"github.com/stevemurr/library-sync/model"
)

// MemoryCache keeps snapshots in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[string]model.Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[string]model.Snapshot)}
}

func (m *MemoryCache) Get(_ context.Context, scope string) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[scope]
	if !ok {
		return nil, nil
	}
	c := snap.Clone()
	return &c, nil
}

func (m *MemoryCache) Set(_ context.Context, scope string, snap *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[scope] = snap.Clone()
	return nil
}

func (m *MemoryCache) Invalidate(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, scope)
	return nil
}

func (m *MemoryCache) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = make(map[string]model.Snapshot)
	return nil
}

// Len returns the number of cached scopes.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}

func (m *MemoryCache) Close() error { return nil }
