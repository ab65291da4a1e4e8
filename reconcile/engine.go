// Package reconcile keeps a remotely owned state consistent with a local
// cache under optimistic local edits.
//
// Every mutation goes through three steps: the optimistic change is applied
// to the in-memory state and written to the cache, the remote call is made,
// and then either the whole scope is re-fetched and committed (success) or
// the cache entry is invalidated and the scope reloaded (failure).
//
// Optimistic changes stack: a mutation started while another is pending
// sees the other's optimistic result. Remote calls for one scope run in the
// order their mutations were started, and each authoritative commit replays
// the still-pending optimistic changes on top of the fresh state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stevemurr/library-sync/logging"
	"github.com/stevemurr/library-sync/metrics"
	"github.com/stevemurr/library-sync/notify"
)

var (
	// ErrInactiveScope is returned for operations on a scope that is not active.
	ErrInactiveScope = errors.New("reconcile: scope is not active")
	// ErrNotLoaded is returned when mutating a scope whose state was never loaded.
	ErrNotLoaded = errors.New("reconcile: scope not loaded")
)

// Store is the local cache as seen by the engine.
type Store[S any] interface {
	Get(ctx context.Context, scope string) (S, bool, error)
	Set(ctx context.Context, scope string, state S) error
	Invalidate(ctx context.Context, scope string) error
}

// Fetcher loads the full authoritative state of a scope.
type Fetcher[S any] func(ctx context.Context, scope string) (S, error)

// Mutation describes one scope-wide, all-or-nothing change.
type Mutation[S any] struct {
	// Kind names the operation in logs, metrics and notifications.
	Kind string
	// Apply computes the optimistic state. It receives a private copy and
	// may modify it. An error aborts the mutation before anything changes.
	Apply func(S) (S, error)
	// Commit performs the remote call.
	Commit func(ctx context.Context) error
	// Refetch overrides the engine's Fetch after a successful commit.
	Refetch Fetcher[S]
	// Fold, if set, replaces Apply when a successful commit cannot be
	// confirmed by a refetch. It sees the remote's answer, for example an
	// assigned id, through state captured by Commit.
	Fold func(S) (S, error)
}

// Config wires an Engine.
type Config[S any] struct {
	Store     Store[S]
	Fetch     Fetcher[S]
	Normalize func(S) S
	Clone     func(S) S

	Notifier notify.Notifier
	Logger   *zap.Logger

	// RevalidateOnHit starts a background refresh whenever a load is
	// served from the cache.
	RevalidateOnHit bool
	// BulkLimit caps concurrent per-item calls in DoBulk. Zero means 8.
	BulkLimit int
}

type layer[S any] struct {
	op    *Operation
	apply func(S) (S, error)
}

type scopeState[S any] struct {
	base       S
	pending    []layer[S]
	appliedSeq uint64
	// stale is set while base holds changes no fetch has confirmed. A stale
	// scope is never written to the cache.
	stale bool
}

func (st *scopeState[S]) remove(op *Operation) (layer[S], bool) {
	for i, l := range st.pending {
		if l.op == op {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return l, true
		}
	}
	return layer[S]{}, false
}

// Engine runs mutations for one active scope at a time.
type Engine[S any] struct {
	cfg      Config[S]
	logger   *zap.Logger
	notifier notify.Notifier

	mu     sync.Mutex
	active string
	scopes map[string]*scopeState[S]
	queues map[string]chan struct{}
	seq    uint64
	subs   map[int]func(string, S)
	nextID int

	persistMu sync.Mutex
	publishMu sync.Mutex
	wg        sync.WaitGroup
}

// New creates an engine. Store, Fetch and Clone are required.
func New[S any](cfg Config[S]) *Engine[S] {
	if cfg.Normalize == nil {
		cfg.Normalize = func(s S) S { return s }
	}
	if cfg.BulkLimit <= 0 {
		cfg.BulkLimit = 8
	}
	n := cfg.Notifier
	if n == nil {
		n = notify.Discard
	}
	return &Engine[S]{
		cfg:      cfg,
		logger:   logging.OrNop(cfg.Logger),
		notifier: n,
		scopes:   make(map[string]*scopeState[S]),
		queues:   make(map[string]chan struct{}),
		subs:     make(map[int]func(string, S)),
	}
}

// Active returns the active scope.
func (e *Engine[S]) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Activate makes scope the active scope, drops the in-memory state of every
// other scope and loads scope.
func (e *Engine[S]) Activate(ctx context.Context, scope string) error {
	e.mu.Lock()
	if e.active != scope {
		for k := range e.scopes {
			if k != scope {
				delete(e.scopes, k)
			}
		}
		e.active = scope
	}
	e.mu.Unlock()
	return e.Load(ctx, scope)
}

// Load fills the state of the active scope, from the cache when possible.
// A scope that is already loaded is refreshed from the remote instead, since
// the cache may hold optimistic changes that are still pending in memory.
func (e *Engine[S]) Load(ctx context.Context, scope string) error {
	e.mu.Lock()
	if scope != e.active {
		e.mu.Unlock()
		return ErrInactiveScope
	}
	_, loaded := e.scopes[scope]
	e.mu.Unlock()
	if loaded {
		return e.fetchAndCommit(ctx, scope, "load")
	}

	cached, ok, err := e.cfg.Store.Get(ctx, scope)
	if err != nil {
		e.logger.Warn("cache read failed, loading from remote", zap.String("scope", scope), zap.Error(err))
		ok = false
	}
	if ok {
		if e.commitBase(scope, e.nextSeq(), cached) {
			e.publish(scope)
		}
		if e.cfg.RevalidateOnHit {
			e.RefreshAsync(scope)
		}
		return nil
	}
	return e.fetchAndCommit(ctx, scope, "load")
}

// Refresh re-fetches the scope and commits the result. A failure leaves the
// state untouched; it is logged and returned.
func (e *Engine[S]) Refresh(ctx context.Context, scope string) error {
	if e.Active() != scope {
		return ErrInactiveScope
	}
	err := e.fetchAndCommit(ctx, scope, "refresh")
	if err != nil {
		e.logger.Warn("background refresh failed", zap.String("scope", scope), zap.Error(err))
	}
	return err
}

// RefreshAsync starts a fire-and-forget Refresh.
func (e *Engine[S]) RefreshAsync(scope string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.Refresh(context.Background(), scope)
	}()
}

// Wait blocks until every background task started so far has finished.
func (e *Engine[S]) Wait() {
	e.wg.Wait()
}

// State returns the visible state of scope: the last authoritative state
// with every pending optimistic change applied.
func (e *Engine[S]) State(scope string) (S, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.scopes[scope]
	if !ok {
		var zero S
		return zero, false
	}
	return e.visibleLocked(st), true
}

// Pending returns the number of unsettled operations for scope.
func (e *Engine[S]) Pending(scope string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.scopes[scope]; ok {
		return len(st.pending)
	}
	return 0
}

// Subscribe registers fn to receive every new visible state. Calls are
// serialized, so fn never sees an older state after a newer one. fn must not
// modify the state or start mutations. The returned func unsubscribes.
func (e *Engine[S]) Subscribe(fn func(scope string, state S)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Start applies m optimistically and returns once the optimistic state is
// visible and cached. The remote call runs in the background; use the
// returned Operation to wait for it.
func (e *Engine[S]) Start(ctx context.Context, scope string, m Mutation[S]) (*Operation, error) {
	e.mu.Lock()
	if scope != e.active {
		e.mu.Unlock()
		return nil, ErrInactiveScope
	}
	st, ok := e.scopes[scope]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotLoaded
	}
	if _, err := m.Apply(e.visibleLocked(st)); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	op := newOperation(scope, m.Kind)
	st.pending = append(st.pending, layer[S]{op: op, apply: m.Apply})
	prev := e.queues[scope]
	turn := make(chan struct{})
	e.queues[scope] = turn
	e.mu.Unlock()

	e.logger.Debug("optimistic change applied",
		zap.String("scope", scope), zap.String("kind", m.Kind), zap.String("op", op.ID))
	e.publish(scope)
	e.persist(ctx, scope)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(scope, turn)
		if prev != nil {
			<-prev
		}
		e.settle(ctx, op, m)
	}()
	return op, nil
}

// Do runs m and waits for it to settle. A rolled back mutation returns the
// remote error wrapped with the mutation kind; the rollback has already
// happened and a notification has been raised.
func (e *Engine[S]) Do(ctx context.Context, scope string, m Mutation[S]) (*Operation, error) {
	op, err := e.Start(ctx, scope, m)
	if err != nil {
		return nil, err
	}
	if err := op.Wait(); err != nil {
		return op, fmt.Errorf("%s: %w", m.Kind, err)
	}
	return op, nil
}

func (e *Engine[S]) release(scope string, turn chan struct{}) {
	close(turn)
	e.mu.Lock()
	if e.queues[scope] == turn {
		delete(e.queues, scope)
	}
	e.mu.Unlock()
}

func (e *Engine[S]) settle(ctx context.Context, op *Operation, m Mutation[S]) {
	if err := m.Commit(ctx); err != nil {
		e.rollback(ctx, op, err)
		return
	}

	fetch := m.Refetch
	if fetch == nil {
		fetch = e.cfg.Fetch
	}
	seq := e.nextSeq()
	fresh, ferr := fetch(ctx, op.Scope)

	e.mu.Lock()
	st, ok := e.scopes[op.Scope]
	if !ok || op.Scope != e.active {
		e.mu.Unlock()
		e.logger.Info("discarding commit for inactive scope",
			zap.String("scope", op.Scope), zap.String("kind", op.Kind))
		e.invalidate(ctx, op.Scope)
		e.finish(op, PhaseCommitted, nil)
		return
	}
	l, _ := st.remove(op)
	unconfirmed := false
	switch {
	case ferr != nil:
		metrics.Refreshes.WithLabelValues("commit", "error").Inc()
		if seq > st.appliedSeq {
			fold := m.Fold
			if fold == nil {
				fold = l.apply
			}
			if fold != nil {
				if next, err := fold(e.cfg.Clone(st.base)); err == nil {
					st.base = e.cfg.Normalize(next)
				}
			}
			st.stale = true
			unconfirmed = true
		}
		e.logger.Warn("refresh after commit failed, keeping optimistic state",
			zap.String("scope", op.Scope), zap.String("kind", op.Kind), zap.Error(ferr))
	case seq > st.appliedSeq:
		metrics.Refreshes.WithLabelValues("commit", "ok").Inc()
		st.base = e.cfg.Normalize(fresh)
		st.appliedSeq = seq
		st.stale = false
	default:
		metrics.Refreshes.WithLabelValues("commit", "stale").Inc()
	}
	e.mu.Unlock()

	e.publish(op.Scope)
	e.persist(ctx, op.Scope)
	if unconfirmed {
		e.RefreshAsync(op.Scope)
	}
	e.finish(op, PhaseCommitted, nil)
}

func (e *Engine[S]) rollback(ctx context.Context, op *Operation, cause error) {
	e.mu.Lock()
	st, ok := e.scopes[op.Scope]
	if ok {
		st.remove(op)
	}
	active := ok && op.Scope == e.active
	e.mu.Unlock()

	e.logger.Warn("remote call failed, rolling back",
		zap.String("scope", op.Scope), zap.String("kind", op.Kind), zap.Error(cause))

	bg := context.WithoutCancel(ctx)
	e.invalidate(bg, op.Scope)
	if active {
		e.publish(op.Scope)
		if err := e.fetchAndCommit(bg, op.Scope, "rollback"); err != nil {
			e.logger.Warn("reload after rollback failed", zap.String("scope", op.Scope), zap.Error(err))
		}
	}
	e.notifier.Notify(notify.Notification{
		Level:   notify.Error,
		Scope:   op.Scope,
		Title:   op.Kind + " failed",
		Message: cause.Error(),
	})
	e.finish(op, PhaseRolledBack, cause)
}

// finish settles op once its effects on state and cache are complete.
func (e *Engine[S]) finish(op *Operation, phase Phase, err error) {
	metrics.Operations.WithLabelValues(op.Kind, phase.String()).Inc()
	op.finish(phase, err)
}

func (e *Engine[S]) fetchAndCommit(ctx context.Context, scope, trigger string) error {
	seq := e.nextSeq()
	fresh, err := e.cfg.Fetch(ctx, scope)
	if err != nil {
		metrics.Refreshes.WithLabelValues(trigger, "error").Inc()
		return err
	}
	if !e.commitBase(scope, seq, fresh) {
		metrics.Refreshes.WithLabelValues(trigger, "stale").Inc()
		return nil
	}
	metrics.Refreshes.WithLabelValues(trigger, "ok").Inc()
	e.publish(scope)
	e.persist(ctx, scope)
	return nil
}

// commitBase installs base as the authoritative state of scope if scope is
// still active and no newer fetch has been committed.
func (e *Engine[S]) commitBase(scope string, seq uint64, base S) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if scope != e.active {
		e.logger.Debug("discarding state for inactive scope", zap.String("scope", scope))
		return false
	}
	st, ok := e.scopes[scope]
	if !ok {
		st = &scopeState[S]{}
		e.scopes[scope] = st
	} else if seq <= st.appliedSeq {
		return false
	}
	st.base = e.cfg.Normalize(base)
	st.appliedSeq = seq
	st.stale = false
	return true
}

func (e *Engine[S]) nextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// visibleLocked replays pending layers over a copy of the base. A layer
// that no longer applies (its target vanished remotely) is skipped.
func (e *Engine[S]) visibleLocked(st *scopeState[S]) S {
	v := e.cfg.Clone(st.base)
	for _, l := range st.pending {
		next, err := l.apply(e.cfg.Clone(v))
		if err != nil {
			e.logger.Debug("pending change no longer applies",
				zap.String("kind", l.op.Kind), zap.String("op", l.op.ID), zap.Error(err))
			continue
		}
		v = e.cfg.Normalize(next)
	}
	return v
}

// publish sends the current visible state of scope to every subscriber.
func (e *Engine[S]) publish(scope string) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	st, ok := e.scopes[scope]
	if !ok || scope != e.active || len(e.subs) == 0 {
		e.mu.Unlock()
		return
	}
	state := e.visibleLocked(st)
	fns := make([]func(string, S), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(scope, state)
	}
}

// persist writes the current visible state of scope to the cache. A stale
// scope has its cache entry dropped instead, so the next load goes to the
// remote. Cache failures are logged and otherwise ignored.
func (e *Engine[S]) persist(ctx context.Context, scope string) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	st, ok := e.scopes[scope]
	if !ok || scope != e.active {
		e.mu.Unlock()
		return
	}
	stale := st.stale
	vis := e.visibleLocked(st)
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if stale {
		if err := e.cfg.Store.Invalidate(ctx, scope); err != nil {
			e.logger.Warn("cache invalidate failed", zap.String("scope", scope), zap.Error(err))
		}
		return
	}
	if err := e.cfg.Store.Set(ctx, scope, vis); err != nil {
		e.logger.Warn("cache write failed", zap.String("scope", scope), zap.Error(err))
	}
}

func (e *Engine[S]) invalidate(ctx context.Context, scope string) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if err := e.cfg.Store.Invalidate(context.WithoutCancel(ctx), scope); err != nil {
		e.logger.Warn("cache invalidate failed", zap.String("scope", scope), zap.Error(err))
	}
}
