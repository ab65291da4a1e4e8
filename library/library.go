// Package library implements the library workspace (collections and their
// members) on top of the reconcile engine. Every edit shows up locally at
// once and is confirmed or undone once the remote answers.
package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stevemurr/library-sync/cache"
	"github.com/stevemurr/library-sync/logging"
	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/notify"
	"github.com/stevemurr/library-sync/reconcile"
	"github.com/stevemurr/library-sync/selection"
)

var (
	// ErrInvalidName is returned for an empty collection name.
	ErrInvalidName = errors.New("library: collection name is required")
	// ErrUnknownCollection is returned when the target collection is not in the workspace.
	ErrUnknownCollection = errors.New("library: unknown collection")
	// ErrPendingCollection is returned when the target collection has not been
	// created remotely yet.
	ErrPendingCollection = errors.New("library: collection is still being created")
)

// Options configures a Library. Remote and Cache are required.
type Options struct {
	Remote Remote
	Cache  cache.Cache
	// CacheBackend labels cache metrics.
	CacheBackend string

	Notifier notify.Notifier
	Logger   *zap.Logger

	// RevalidateOnHit refreshes in the background after a cached open.
	RevalidateOnHit bool
	// FetchLimit caps concurrent member list requests during a refresh.
	FetchLimit int
	// BulkLimit caps concurrent per-item calls of bulk operations.
	BulkLimit int

	Now func() time.Time
}

// Library is the client-side view of one workspace at a time.
type Library struct {
	remote    Remote
	engine    *reconcile.Engine[model.Snapshot]
	selection *selection.Set[string]
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Library. Call Open before anything else.
func New(opts Options) (*Library, error) {
	if opts.Remote == nil {
		return nil, errors.New("library: remote is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("library: cache is required")
	}
	if opts.CacheBackend == "" {
		opts.CacheBackend = "unknown"
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 8
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := logging.OrNop(opts.Logger)

	l := &Library{
		remote:    opts.Remote,
		selection: &selection.Set[string]{},
		logger:    logger,
		now:       opts.Now,
	}
	l.engine = reconcile.New(reconcile.Config[model.Snapshot]{
		Store: snapshotStore{cache: opts.Cache, backend: opts.CacheBackend},
		Fetch: func(ctx context.Context, scope string) (model.Snapshot, error) {
			return FetchSnapshot(ctx, opts.Remote, scope, opts.FetchLimit)
		},
		Normalize:       model.Snapshot.Normalize,
		Clone:           model.Snapshot.Clone,
		Notifier:        opts.Notifier,
		Logger:          logger.Named("reconcile"),
		RevalidateOnHit: opts.RevalidateOnHit,
		BulkLimit:       opts.BulkLimit,
	})
	return l, nil
}

// ---------- scope & reads ----------

// Open switches to workspace and loads it. The selection is cleared.
func (l *Library) Open(ctx context.Context, workspace string) error {
	if l.engine.Active() != workspace {
		l.selection.Clear()
	}
	if err := l.engine.Activate(ctx, workspace); err != nil {
		return fmt.Errorf("open %s: %w", workspace, err)
	}
	return nil
}

// Workspace returns the open workspace.
func (l *Library) Workspace() string {
	return l.engine.Active()
}

// Snapshot returns the visible state of the open workspace.
func (l *Library) Snapshot() (model.Snapshot, bool) {
	return l.engine.State(l.engine.Active())
}

// Collections returns the collections of the open workspace in display order.
func (l *Library) Collections() []model.Collection {
	snap, ok := l.Snapshot()
	if !ok {
		return nil
	}
	return snap.Collections
}

// Collection returns one collection of the open workspace.
func (l *Library) Collection(id string) (model.Collection, bool) {
	snap, ok := l.Snapshot()
	if !ok {
		return model.Collection{}, false
	}
	return snap.Collection(id)
}

// Members returns the member ids of a collection.
func (l *Library) Members(collectionID string) []string {
	snap, ok := l.Snapshot()
	if !ok {
		return nil
	}
	return snap.Members[collectionID]
}

// Pending returns the number of edits waiting for the remote.
func (l *Library) Pending() int {
	return l.engine.Pending(l.engine.Active())
}

// Refresh reloads the open workspace from the remote.
func (l *Library) Refresh(ctx context.Context) error {
	return l.engine.Refresh(ctx, l.engine.Active())
}

// RefreshAsync reloads the open workspace in the background.
func (l *Library) RefreshAsync() {
	l.engine.RefreshAsync(l.engine.Active())
}

// OnChange calls fn with every new visible state of the open workspace.
func (l *Library) OnChange(fn func(model.Snapshot)) func() {
	return l.engine.Subscribe(func(scope string, snap model.Snapshot) {
		if scope == l.engine.Active() {
			fn(snap)
		}
	})
}

// Selection returns the selection set. Items are display names.
func (l *Library) Selection() *selection.Set[string] {
	return l.selection
}

// Wait blocks until all background work has finished.
func (l *Library) Wait() {
	l.engine.Wait()
}

// ---------- validation ----------

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

func checkTarget(id string) error {
	if model.IsTemporaryID(id) {
		return fmt.Errorf("%w: %s", ErrPendingCollection, id)
	}
	return nil
}

func requireCollection(s model.Snapshot, id string) (int, error) {
	i := s.IndexOf(id)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", ErrUnknownCollection, id)
	}
	return i, nil
}

// ---------- collections ----------

// CreateCollection creates a collection. It appears at once under a
// temporary id and is replaced by the remote record once created. The
// returned collection carries the remote id.
func (l *Library) CreateCollection(ctx context.Context, draft model.CollectionDraft) (model.Collection, error) {
	name, err := validName(draft.Name)
	if err != nil {
		return model.Collection{}, err
	}
	draft.Name = name

	workspace := l.engine.Active()
	now := l.now()
	tmp := model.Collection{
		ID:          model.NewTemporaryID(),
		WorkspaceID: workspace,
		Name:        name,
		Description: draft.Description,
		Tags:        draft.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	appendAs := func(id *string) func(model.Snapshot) (model.Snapshot, error) {
		return func(s model.Snapshot) (model.Snapshot, error) {
			c := tmp
			c.ID = *id
			c.OrderIndex = model.NextOrderIndex(s.Collections)
			s.Collections = append(s.Collections, c)
			s.Members[c.ID] = []string{}
			return s, nil
		}
	}

	// An unconfirmed create is kept under the remote id, never the temporary one.
	var created string
	_, err = l.engine.Do(ctx, workspace, reconcile.Mutation[model.Snapshot]{
		Kind:  "create collection",
		Apply: appendAs(&tmp.ID),
		Fold:  appendAs(&created),
		Commit: func(ctx context.Context) error {
			id, err := l.remote.CreateCollection(ctx, workspace, draft)
			created = id
			return err
		},
	})
	if err != nil {
		return model.Collection{}, err
	}

	if c, ok := l.Collection(created); ok {
		return c, nil
	}
	tmp.ID = created
	return tmp, nil
}

// UpdateCollection applies patch to a collection.
func (l *Library) UpdateCollection(ctx context.Context, id string, patch model.CollectionPatch) error {
	if err := checkTarget(id); err != nil {
		return err
	}
	if patch.Name != nil {
		name, err := validName(*patch.Name)
		if err != nil {
			return err
		}
		patch.Name = &name
	}
	if patch.Empty() {
		return nil
	}

	now := l.now()
	_, err := l.engine.Do(ctx, l.engine.Active(), reconcile.Mutation[model.Snapshot]{
		Kind: "update collection",
		Apply: func(s model.Snapshot) (model.Snapshot, error) {
			i, err := requireCollection(s, id)
			if err != nil {
				return s, err
			}
			s.Collections[i] = patch.ApplyTo(s.Collections[i], now)
			return s, nil
		},
		Commit: func(ctx context.Context) error {
			return l.remote.UpdateCollection(ctx, id, patch)
		},
	})
	return err
}

// RenameCollection changes the name of a collection.
func (l *Library) RenameCollection(ctx context.Context, id, name string) error {
	return l.UpdateCollection(ctx, id, model.CollectionPatch{Name: &name})
}

// DeleteCollection deletes a collection and its membership list.
func (l *Library) DeleteCollection(ctx context.Context, id string) error {
	if err := checkTarget(id); err != nil {
		return err
	}
	_, err := l.engine.Do(ctx, l.engine.Active(), reconcile.Mutation[model.Snapshot]{
		Kind:  "delete collection",
		Apply: removeCollections(id),
		Commit: func(ctx context.Context) error {
			return l.remote.DeleteCollection(ctx, id)
		},
	})
	if err == nil {
		l.selection.Deselect(id)
	}
	return err
}

func removeCollections(ids ...string) func(model.Snapshot) (model.Snapshot, error) {
	return func(s model.Snapshot) (model.Snapshot, error) {
		for _, id := range ids {
			if _, err := requireCollection(s, id); err != nil {
				return s, err
			}
		}
		s.Collections = slices.DeleteFunc(s.Collections, func(c model.Collection) bool {
			return slices.Contains(ids, c.ID)
		})
		for _, id := range ids {
			delete(s.Members, id)
		}
		return s, nil
	}
}

// ---------- membership ----------

// AddMembers adds items to a collection. Items already present are ignored.
func (l *Library) AddMembers(ctx context.Context, collectionID string, ids ...string) error {
	if err := checkTarget(collectionID); err != nil {
		return err
	}
	ids = model.DedupeIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	_, err := l.engine.Do(ctx, l.engine.Active(), reconcile.Mutation[model.Snapshot]{
		Kind:  "add to collection",
		Apply: addMembers(collectionID, ids),
		Commit: func(ctx context.Context) error {
			return l.remote.AddMembers(ctx, collectionID, ids)
		},
	})
	return err
}

// RemoveMembers removes items from a collection.
func (l *Library) RemoveMembers(ctx context.Context, collectionID string, ids ...string) error {
	if err := checkTarget(collectionID); err != nil {
		return err
	}
	ids = model.DedupeIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	_, err := l.engine.Do(ctx, l.engine.Active(), reconcile.Mutation[model.Snapshot]{
		Kind:  "remove from collection",
		Apply: removeMembers(collectionID, ids),
		Commit: func(ctx context.Context) error {
			return l.remote.RemoveMembers(ctx, collectionID, ids)
		},
	})
	return err
}

// MoveMember moves an item from one collection to another. The item is
// added to the target before it is removed from the source; if either call
// fails the whole move is undone.
func (l *Library) MoveMember(ctx context.Context, memberID, fromID, toID string) error {
	if fromID == toID {
		return nil
	}
	for _, id := range []string{fromID, toID} {
		if err := checkTarget(id); err != nil {
			return err
		}
	}
	add := addMembers(toID, []string{memberID})
	remove := removeMembers(fromID, []string{memberID})

	_, err := l.engine.Do(ctx, l.engine.Active(), reconcile.Mutation[model.Snapshot]{
		Kind: "move item",
		Apply: func(s model.Snapshot) (model.Snapshot, error) {
			s, err := add(s)
			if err != nil {
				return s, err
			}
			return remove(s)
		},
		Commit: func(ctx context.Context) error {
			if err := l.remote.AddMembers(ctx, toID, []string{memberID}); err != nil {
				return err
			}
			if err := l.remote.RemoveMembers(ctx, fromID, []string{memberID}); err != nil {
				if uerr := l.remote.RemoveMembers(ctx, toID, []string{memberID}); uerr != nil {
					l.logger.Warn("could not undo partial move",
						zap.String("member", memberID), zap.String("collection", toID), zap.Error(uerr))
				}
				return err
			}
			return nil
		},
	})
	return err
}

func addMembers(collectionID string, ids []string) func(model.Snapshot) (model.Snapshot, error) {
	return func(s model.Snapshot) (model.Snapshot, error) {
		if _, err := requireCollection(s, collectionID); err != nil {
			return s, err
		}
		s.Members[collectionID] = append(s.Members[collectionID], ids...)
		return s, nil
	}
}

func removeMembers(collectionID string, ids []string) func(model.Snapshot) (model.Snapshot, error) {
	return func(s model.Snapshot) (model.Snapshot, error) {
		if _, err := requireCollection(s, collectionID); err != nil {
			return s, err
		}
		s.Members[collectionID] = slices.DeleteFunc(s.Members[collectionID], func(m string) bool {
			return slices.Contains(ids, m)
		})
		return s, nil
	}
}

// ---------- bulk ----------

// AddToCollections adds one item to many collections with one remote call
// per collection. See reconcile.Engine.DoBulk for partial failure handling.
func (l *Library) AddToCollections(ctx context.Context, memberID string, collectionIDs []string) (reconcile.BulkResult, error) {
	collectionIDs = model.DedupeIDs(collectionIDs)
	for _, id := range collectionIDs {
		if err := checkTarget(id); err != nil {
			return reconcile.BulkResult{}, err
		}
	}
	return l.engine.DoBulk(ctx, l.engine.Active(), reconcile.BulkMutation[model.Snapshot]{
		Kind:  "add to collections",
		Items: collectionIDs,
		Apply: func(s model.Snapshot) (model.Snapshot, error) {
			var err error
			for _, id := range collectionIDs {
				if s, err = addMembers(id, []string{memberID})(s); err != nil {
					return s, err
				}
			}
			return s, nil
		},
		Commit: func(ctx context.Context, collectionID string) error {
			return l.remote.AddMembers(ctx, collectionID, []string{memberID})
		},
	})
}

// ReorderCollections puts the listed collections first, in the given order,
// followed by the rest in their current order. Only collections whose order
// index changes are sent to the remote.
func (l *Library) ReorderCollections(ctx context.Context, orderedIDs []string) (reconcile.BulkResult, error) {
	orderedIDs = model.DedupeIDs(orderedIDs)
	for _, id := range orderedIDs {
		if err := checkTarget(id); err != nil {
			return reconcile.BulkResult{}, err
		}
	}
	snap, ok := l.Snapshot()
	if !ok {
		return reconcile.BulkResult{}, reconcile.ErrNotLoaded
	}
	full, err := fullOrder(snap, orderedIDs)
	if err != nil {
		return reconcile.BulkResult{}, err
	}

	position := make(map[string]int, len(full))
	var changed []string
	for i, id := range full {
		position[id] = i
		if c, _ := snap.Collection(id); c.OrderIndex != i {
			changed = append(changed, id)
		}
	}

	return l.engine.DoBulk(ctx, l.engine.Active(), reconcile.BulkMutation[model.Snapshot]{
		Kind:  "reorder collections",
		Items: changed,
		Apply: func(s model.Snapshot) (model.Snapshot, error) {
			next := len(full)
			for i := range s.Collections {
				id := s.Collections[i].ID
				if p, ok := position[id]; ok {
					s.Collections[i].OrderIndex = p
				} else if model.IsTemporaryID(id) {
					s.Collections[i].OrderIndex = next
					next++
				}
			}
			return s, nil
		},
		Commit: func(ctx context.Context, id string) error {
			p := position[id]
			return l.remote.UpdateCollection(ctx, id, model.CollectionPatch{OrderIndex: &p})
		},
	})
}

// fullOrder lists every remotely known collection, orderedIDs first.
// Collections still being created are left out.
func fullOrder(s model.Snapshot, orderedIDs []string) ([]string, error) {
	full := make([]string, 0, len(s.Collections))
	for _, id := range orderedIDs {
		if _, err := requireCollection(s, id); err != nil {
			return nil, err
		}
		full = append(full, id)
	}
	for _, c := range s.Collections {
		if !slices.Contains(orderedIDs, c.ID) && !model.IsTemporaryID(c.ID) {
			full = append(full, c.ID)
		}
	}
	return full, nil
}

// DeleteCollections deletes many collections with one remote call each.
func (l *Library) DeleteCollections(ctx context.Context, ids []string) (reconcile.BulkResult, error) {
	ids = model.DedupeIDs(ids)
	for _, id := range ids {
		if err := checkTarget(id); err != nil {
			return reconcile.BulkResult{}, err
		}
	}
	res, err := l.engine.DoBulk(ctx, l.engine.Active(), reconcile.BulkMutation[model.Snapshot]{
		Kind:  "delete collections",
		Items: ids,
		Apply: removeCollections(ids...),
		Commit: func(ctx context.Context, id string) error {
			return l.remote.DeleteCollection(ctx, id)
		},
	})
	for _, id := range ids {
		if _, failed := res.Errors[id]; err == nil && !failed {
			l.selection.Deselect(id)
		}
	}
	return res, err
}
