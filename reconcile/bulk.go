package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/library-sync/metrics"
	"github.com/stevemurr/library-sync/notify"
)

// BulkMutation is one optimistic change backed by many independent
// per-item remote calls.
type BulkMutation[S any] struct {
	Kind    string
	Items   []string
	Apply   func(S) (S, error)
	Commit  func(ctx context.Context, item string) error
	Refetch Fetcher[S]
}

// BulkResult counts per-item outcomes. Every item is attempted.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    map[string]error
}

// Total is the number of attempted items.
func (r BulkResult) Total() int { return r.Succeeded + r.Failed }

// DoBulk applies m optimistically and then runs one remote call per item in
// parallel. Individual failures never cancel siblings. If at least one item
// succeeded the batch commits and a partial failure raises a warning; if all
// items failed the batch is rolled back like a scope-wide failure and the
// joined error is returned.
func (e *Engine[S]) DoBulk(ctx context.Context, scope string, m BulkMutation[S]) (BulkResult, error) {
	res := BulkResult{Errors: map[string]error{}}
	if len(m.Items) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	op, err := e.Start(ctx, scope, Mutation[S]{
		Kind:    m.Kind,
		Apply:   m.Apply,
		Refetch: m.Refetch,
		Commit: func(ctx context.Context) error {
			g := new(errgroup.Group)
			g.SetLimit(e.cfg.BulkLimit)
			for _, item := range m.Items {
				g.Go(func() error {
					err := m.Commit(ctx, item)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						res.Failed++
						res.Errors[item] = err
						metrics.BulkItems.WithLabelValues(m.Kind, "error").Inc()
					} else {
						res.Succeeded++
						metrics.BulkItems.WithLabelValues(m.Kind, "ok").Inc()
					}
					return nil
				})
			}
			_ = g.Wait()

			if res.Succeeded == 0 {
				errs := make([]error, 0, len(res.Errors))
				for _, item := range m.Items {
					if err, ok := res.Errors[item]; ok {
						errs = append(errs, fmt.Errorf("%s: %w", item, err))
					}
				}
				return fmt.Errorf("all %d items failed: %w", res.Failed, errors.Join(errs...))
			}
			return nil
		},
	})
	if err != nil {
		return res, err
	}

	if err := op.Wait(); err != nil {
		return res, fmt.Errorf("%s: %w", m.Kind, err)
	}
	if res.Failed > 0 {
		e.notifier.Notify(notify.Notification{
			Level:   notify.Warning,
			Scope:   scope,
			Title:   m.Kind + " partially failed",
			Message: fmt.Sprintf("%d of %d items failed", res.Failed, res.Total()),
		})
	}
	return res, nil
}
