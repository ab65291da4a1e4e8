package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/library-sync/notify"
	"github.com/stevemurr/library-sync/reconcile"
)

func bulkAdd(r *fakeRemote, scope string, items []string, fail map[string]bool, attempts *atomic.Int32) reconcile.BulkMutation[[]string] {
	return reconcile.BulkMutation[[]string]{
		Kind:  "bulk add",
		Items: items,
		Apply: func(v []string) ([]string, error) {
			for _, it := range items {
				v = append(v, "tmp-"+it)
			}
			return v, nil
		},
		Commit: func(_ context.Context, item string) error {
			attempts.Add(1)
			if fail[item] {
				return fmt.Errorf("rejected %s", item)
			}
			r.add(scope, item)
			return nil
		},
	}
}

func TestBulkPartialFailure(t *testing.T) {
	r := newFakeRemote()
	rec := &notify.Recorder{}
	e := newEngine(r, newMemStore(), rec)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "ws1"))

	var attempts atomic.Int32
	items := []string{"a", "b", "c", "d", "e"}
	res, err := e.DoBulk(ctx, "ws1", bulkAdd(r, "ws1", items, map[string]bool{"b": true, "d": true}, &attempts))
	require.NoError(t, err)

	assert.Equal(t, int32(5), attempts.Load())
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 5, res.Total())
	assert.Contains(t, res.Errors, "b")
	assert.Contains(t, res.Errors, "d")

	assert.Equal(t, []string{"a", "c", "e"}, state(t, e, "ws1"))
	require.Equal(t, 1, rec.Count(notify.Warning))
	assert.Equal(t, "2 of 5 items failed", rec.All()[0].Message)
}

func TestBulkAllFailedRollsBack(t *testing.T) {
	r := newFakeRemote()
	r.data["ws1"] = []string{"base"}
	s := newMemStore()
	rec := &notify.Recorder{}
	e := newEngine(r, s, rec)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "ws1"))

	var attempts atomic.Int32
	items := []string{"a", "b", "c"}
	fail := map[string]bool{"a": true, "b": true, "c": true}
	res, err := e.DoBulk(ctx, "ws1", bulkAdd(r, "ws1", items, fail, &attempts))
	require.Error(t, err)

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, []string{"base"}, state(t, e, "ws1"))
	cached, _ := s.peek("ws1")
	assert.Equal(t, []string{"base"}, cached)
	assert.Equal(t, 1, rec.Count(notify.Error))
	assert.Equal(t, 0, rec.Count(notify.Warning))
}

func TestBulkAllSucceeded(t *testing.T) {
	r := newFakeRemote()
	rec := &notify.Recorder{}
	e := newEngine(r, newMemStore(), rec)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "ws1"))

	var attempts atomic.Int32
	res, err := e.DoBulk(ctx, "ws1", bulkAdd(r, "ws1", []string{"x", "y"}, nil, &attempts))
	require.NoError(t, err)
	assert.Equal(t, reconcile.BulkResult{Succeeded: 2, Errors: map[string]error{}}, res)
	assert.Empty(t, rec.All())
}

func TestBulkEmpty(t *testing.T) {
	r := newFakeRemote()
	e := newEngine(r, newMemStore(), nil)
	res, err := e.DoBulk(context.Background(), "ws1", reconcile.BulkMutation[[]string]{Kind: "noop"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total())
}

func TestBulkApplyError(t *testing.T) {
	r := newFakeRemote()
	e := newEngine(r, newMemStore(), nil)
	ctx := context.Background()
	require.NoError(t, e.Activate(ctx, "ws1"))

	invalid := errors.New("invalid")
	_, err := e.DoBulk(ctx, "ws1", reconcile.BulkMutation[[]string]{
		Kind:   "bad",
		Items:  []string{"a"},
		Apply:  func([]string) ([]string, error) { return nil, invalid },
		Commit: func(context.Context, string) error { return nil },
	})
	assert.ErrorIs(t, err, invalid)
}
