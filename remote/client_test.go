package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/library-sync/handler"
	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/remote"
	"github.com/stevemurr/library-sync/store"
)

func newClient(t *testing.T, h http.Handler) *remote.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := remote.New(remote.Options{BaseURL: ts.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestClientAgainstServer(t *testing.T) {
	c := newClient(t, handler.New(store.NewMemoryStore(), nil))
	ctx := context.Background()

	cs, err := c.GetCollections(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, cs)
	assert.NotNil(t, cs)

	id, err := c.CreateCollection(ctx, "ws1", model.CollectionDraft{Name: "Guides"})
	require.NoError(t, err)
	assert.False(t, model.IsTemporaryID(id))

	require.NoError(t, c.AddMembers(ctx, id, []string{"a", "b", "a"}))
	ids, err := c.GetCollectionMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, c.RemoveMembers(ctx, id, []string{"a"}))
	ids, err = c.GetCollectionMembers(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	name := "Field Guides"
	require.NoError(t, c.UpdateCollection(ctx, id, model.CollectionPatch{Name: &name}))
	cs, err = c.GetCollections(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "Field Guides", cs[0].Name)

	require.NoError(t, c.DeleteCollection(ctx, id))
	err = c.DeleteCollection(ctx, id)
	require.Error(t, err)
	assert.True(t, remote.IsNotFound(err))
}

func TestClientErrorDetail(t *testing.T) {
	c := newClient(t, handler.New(store.NewMemoryStore(), nil))

	_, err := c.CreateCollection(context.Background(), "ws1", model.CollectionDraft{Name: " "})
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Equal(t, "name is required", re.Message)
}

func TestReadsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`["x"]`))
	}))

	ids, err := c.GetCollectionMembers(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadsGiveUp(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"detail":"down"}`, http.StatusBadGateway)
	}))

	_, err := c.GetCollections(context.Background(), "ws1")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "down")
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetCollectionMembers(context.Background(), "missing")
	assert.True(t, remote.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := c.AddMembers(context.Background(), "c1", []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	c, err := remote.New(remote.Options{BaseURL: ts.URL})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_ = c.DeleteCollection(context.Background(), "c1")
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	err = c.DeleteCollection(context.Background(), "c1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), calls.Load())
}

func TestClientErrorsKeepBreakerClosed(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for i := 0; i < 10; i++ {
		_ = c.DeleteCollection(context.Background(), "c1")
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := remote.New(remote.Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
