package store

import (
	"sync"
	"time"

	"github.com/stevemurr/library-sync/model"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]model.Collection
	members     map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]model.Collection),
		members:     make(map[string][]string),
	}
}

func (m *MemoryStore) ListCollections(workspace string) ([]model.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []model.Collection{}
	for _, c := range m.collections {
		if c.WorkspaceID == workspace {
			result = append(result, c)
		}
	}
	model.SortCollections(result)
	return result, nil
}

func (m *MemoryStore) GetCollection(id string) (*model.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) CreateCollection(c model.Collection) (model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var siblings []model.Collection
	for _, other := range m.collections {
		if other.WorkspaceID == c.WorkspaceID {
			siblings = append(siblings, other)
		}
	}
	c.OrderIndex = model.NextOrderIndex(siblings)
	m.collections[c.ID] = c
	m.members[c.ID] = []string{}
	return c, nil
}

func (m *MemoryStore) UpdateCollection(id string, patch model.CollectionPatch, now time.Time) (*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, nil
	}
	c = patch.ApplyTo(c, now)
	m.collections[id] = c
	return &c, nil
}

func (m *MemoryStore) DeleteCollection(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return false, nil
	}
	delete(m.collections, id)
	delete(m.members, id)
	return true, nil
}

func (m *MemoryStore) Members(id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.members[id]))
	copy(out, m.members[id])
	return out, nil
}

func (m *MemoryStore) AddMembers(id string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return 0, ErrNoCollection
	}
	existing := make(map[string]bool, len(m.members[id]))
	for _, e := range m.members[id] {
		existing[e] = true
	}
	added := 0
	for _, mid := range model.DedupeIDs(ids) {
		if existing[mid] {
			continue
		}
		m.members[id] = append(m.members[id], mid)
		existing[mid] = true
		added++
	}
	return added, nil
}

func (m *MemoryStore) RemoveMembers(id string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return 0, ErrNoCollection
	}
	drop := make(map[string]bool, len(ids))
	for _, mid := range ids {
		drop[mid] = true
	}
	kept := m.members[id][:0]
	removed := 0
	for _, mid := range m.members[id] {
		if drop[mid] {
			removed++
			continue
		}
		kept = append(kept, mid)
	}
	m.members[id] = kept
	return removed, nil
}
