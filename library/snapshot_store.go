package library

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/library-sync/cache"
	"github.com/stevemurr/library-sync/metrics"
	"github.com/stevemurr/library-sync/model"
)

// snapshotStore adapts a cache.Cache to the engine's store and counts lookups.
type snapshotStore struct {
	cache   cache.Cache
	backend string
}

func (s snapshotStore) Get(ctx context.Context, scope string) (model.Snapshot, bool, error) {
	snap, err := s.cache.Get(ctx, scope)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues(s.backend, "error").Inc()
		return model.Snapshot{}, false, err
	case snap == nil:
		metrics.CacheLookups.WithLabelValues(s.backend, "miss").Inc()
		return model.Snapshot{}, false, nil
	default:
		metrics.CacheLookups.WithLabelValues(s.backend, "hit").Inc()
		return *snap, true, nil
	}
}

func (s snapshotStore) Set(ctx context.Context, scope string, snap model.Snapshot) error {
	return s.cache.Set(ctx, scope, &snap)
}

func (s snapshotStore) Invalidate(ctx context.Context, scope string) error {
	return s.cache.Invalidate(ctx, scope)
}

// FetchSnapshot loads the full authoritative state of workspace: every
// collection, then every membership list with at most limit requests in
// flight. The result is normalized.
func FetchSnapshot(ctx context.Context, r Remote, workspace string, limit int) (model.Snapshot, error) {
	cs, err := r.GetCollections(ctx, workspace)
	if err != nil {
		return model.Snapshot{}, err
	}

	members := make([][]string, len(cs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, c := range cs {
		g.Go(func() error {
			ids, err := r.GetCollectionMembers(gctx, c.ID)
			if err != nil {
				return err
			}
			members[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Snapshot{}, err
	}

	snap := model.NewSnapshot(workspace)
	snap.Collections = cs
	for i, c := range cs {
		snap.Members[c.ID] = members[i]
	}
	snap.FetchedAt = time.Now().UTC()
	return snap.Normalize(), nil
}
