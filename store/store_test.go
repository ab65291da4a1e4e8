package store_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/store"
)

func newCollection(id, workspace, name string, created time.Time) model.Collection {
	return model.Collection{ID: id, WorkspaceID: workspace, Name: name, CreatedAt: created, UpdatedAt: created}
}

// runStoreTests runs a common test suite against any Store implementation.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("ListCollections empty", func(t *testing.T) {
		cs, err := s.ListCollections("ws1")
		if err != nil {
			t.Fatal(err)
		}
		if cs == nil || len(cs) != 0 {
			t.Fatalf("expected empty non-nil list, got %v", cs)
		}
	})

	t.Run("Create assigns order", func(t *testing.T) {
		a, err := s.CreateCollection(newCollection("c1", "ws1", "Guides", created))
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.CreateCollection(newCollection("c2", "ws1", "Plans", created.Add(time.Minute)))
		if err != nil {
			t.Fatal(err)
		}
		other, err := s.CreateCollection(newCollection("c3", "ws2", "Elsewhere", created))
		if err != nil {
			t.Fatal(err)
		}
		if a.OrderIndex != 0 || b.OrderIndex != 1 {
			t.Fatalf("expected order 0,1 got %d,%d", a.OrderIndex, b.OrderIndex)
		}
		if other.OrderIndex != 0 {
			t.Fatalf("order index must be per workspace, got %d", other.OrderIndex)
		}
	})

	t.Run("Get", func(t *testing.T) {
		c, err := s.GetCollection("c1")
		if err != nil {
			t.Fatal(err)
		}
		if c == nil || c.Name != "Guides" {
			t.Fatalf("expected Guides, got %v", c)
		}
		if !c.CreatedAt.Equal(created) {
			t.Fatalf("created_at did not round-trip: %v", c.CreatedAt)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		c, err := s.GetCollection("missing")
		if err != nil {
			t.Fatal(err)
		}
		if c != nil {
			t.Fatalf("expected nil, got %v", c)
		}
	})

	t.Run("List is scoped and ordered", func(t *testing.T) {
		cs, err := s.ListCollections("ws1")
		if err != nil {
			t.Fatal(err)
		}
		if len(cs) != 2 || cs[0].ID != "c1" || cs[1].ID != "c2" {
			t.Fatalf("unexpected list %v", cs)
		}
	})

	t.Run("Update", func(t *testing.T) {
		name := "Field Guides"
		order := 5
		now := created.Add(time.Hour)
		c, err := s.UpdateCollection("c1", model.CollectionPatch{Name: &name, OrderIndex: &order}, now)
		if err != nil {
			t.Fatal(err)
		}
		if c == nil || c.Name != "Field Guides" || c.OrderIndex != 5 {
			t.Fatalf("unexpected update result %v", c)
		}
		cs, _ := s.ListCollections("ws1")
		if cs[0].ID != "c2" || cs[1].ID != "c1" {
			t.Fatalf("expected reorder after update, got %v", cs)
		}
		got, _ := s.GetCollection("c1")
		if !got.UpdatedAt.Equal(now) {
			t.Fatalf("expected updated_at %v, got %v", now, got.UpdatedAt)
		}
	})

	t.Run("Update missing", func(t *testing.T) {
		name := "x"
		c, err := s.UpdateCollection("missing", model.CollectionPatch{Name: &name}, created)
		if err != nil {
			t.Fatal(err)
		}
		if c != nil {
			t.Fatalf("expected nil, got %v", c)
		}
	})

	t.Run("Members", func(t *testing.T) {
		n, err := s.AddMembers("c1", []string{"m1", "m2", "m1"})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("expected 2 added, got %d", n)
		}
		n, _ = s.AddMembers("c1", []string{"m2", "m3"})
		if n != 1 {
			t.Fatalf("expected 1 added, got %d", n)
		}
		ids, err := s.Members("c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 3 || ids[0] != "m1" || ids[1] != "m2" || ids[2] != "m3" {
			t.Fatalf("unexpected members %v", ids)
		}

		n, err = s.RemoveMembers("c1", []string{"m2", "nope"})
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("expected 1 removed, got %d", n)
		}
		ids, _ = s.Members("c1")
		if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m3" {
			t.Fatalf("unexpected members after remove %v", ids)
		}
	})

	t.Run("Members of unknown collection", func(t *testing.T) {
		ids, err := s.Members("missing")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 0 {
			t.Fatalf("expected no members, got %v", ids)
		}
	})

	t.Run("Member writes to unknown collection", func(t *testing.T) {
		if _, err := s.AddMembers("missing", []string{"m1"}); !errors.Is(err, store.ErrNoCollection) {
			t.Fatalf("expected ErrNoCollection from add, got %v", err)
		}
		if _, err := s.RemoveMembers("missing", []string{"m1"}); !errors.Is(err, store.ErrNoCollection) {
			t.Fatalf("expected ErrNoCollection from remove, got %v", err)
		}
		ids, _ := s.Members("missing")
		if len(ids) != 0 {
			t.Fatalf("expected no members, got %v", ids)
		}
	})

	t.Run("Delete existing", func(t *testing.T) {
		existed, err := s.DeleteCollection("c1")
		if err != nil {
			t.Fatal(err)
		}
		if !existed {
			t.Fatal("expected existed=true")
		}
		c, _ := s.GetCollection("c1")
		if c != nil {
			t.Fatal("expected nil after delete")
		}
		ids, _ := s.Members("c1")
		if len(ids) != 0 {
			t.Fatalf("expected members dropped, got %v", ids)
		}
		if _, err := s.AddMembers("c1", []string{"late"}); !errors.Is(err, store.ErrNoCollection) {
			t.Fatalf("expected ErrNoCollection after delete, got %v", err)
		}
		ids, _ = s.Members("c1")
		if len(ids) != 0 {
			t.Fatalf("expected no members recreated, got %v", ids)
		}
	})

	t.Run("Delete missing", func(t *testing.T) {
		existed, err := s.DeleteCollection("nope")
		if err != nil {
			t.Fatal(err)
		}
		if existed {
			t.Fatal("expected existed=false")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, store.NewMemoryStore())
}

func TestSqliteStore(t *testing.T) {
	s, err := store.NewSqliteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runStoreTests(t, s)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{"sqlite", "memory", ""} {
		t.Run(backend, func(t *testing.T) {
			if _, err := store.New(backend, filepath.Join(dir, backend)); err != nil {
				t.Fatal(err)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := store.New("redis", dir); err == nil {
			t.Fatal("expected error for unknown backend")
		}
	})
}
