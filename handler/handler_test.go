package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stevemurr/library-sync/handler"
	"github.com/stevemurr/library-sync/store"
)

func setup() (*httptest.Server, store.Store) {
	s := store.NewMemoryStore()
	h := handler.New(s, nil)
	ts := httptest.NewServer(h)
	return ts, s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func decodeJSONArray(t *testing.T, r io.Reader) []any {
	t.Helper()
	var v []any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func do(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createCollection(t *testing.T, ts *httptest.Server, workspace, name string) string {
	t.Helper()
	resp := do(t, "POST", ts.URL+"/workspaces/"+workspace+"/collections", mustJSON(t, map[string]any{"name": name}))
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp.Body)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("expected id in %v", body)
	}
	return id
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp.Body)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/nope")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	http.Get(ts.URL + "/health")
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "libsync_http_requests_total") {
		t.Fatal("expected http request counter in exposition")
	}
}

func TestCollectionsCRUD(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	// GET empty
	resp := do(t, "GET", ts.URL+"/workspaces/ws1/collections", nil)
	items := decodeJSONArray(t, resp.Body)
	if len(items) != 0 {
		t.Fatalf("expected 0 collections, got %d", len(items))
	}

	guides := createCollection(t, ts, "ws1", "  Guides  ")
	plans := createCollection(t, ts, "ws1", "Plans")
	createCollection(t, ts, "ws2", "Elsewhere")

	// GET list is scoped and ordered
	resp = do(t, "GET", ts.URL+"/workspaces/ws1/collections", nil)
	items = decodeJSONArray(t, resp.Body)
	if len(items) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["id"] != guides || first["name"] != "Guides" {
		t.Fatalf("unexpected first collection %v", first)
	}
	if first["order_index"] != float64(0) || items[1].(map[string]any)["order_index"] != float64(1) {
		t.Fatalf("expected order indexes 0,1: %v", items)
	}

	// GET one
	resp = do(t, "GET", ts.URL+"/collections/"+plans, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON(t, resp.Body)
	if got["workspace_id"] != "ws1" {
		t.Fatalf("expected workspace ws1, got %v", got["workspace_id"])
	}

	// PUT rename + move to front
	resp = do(t, "PUT", ts.URL+"/collections/"+plans, mustJSON(t, map[string]any{"name": "Roadmap", "order_index": -1}))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got = decodeJSON(t, resp.Body)
	if got["name"] != "Roadmap" {
		t.Fatalf("expected Roadmap, got %v", got["name"])
	}
	resp = do(t, "GET", ts.URL+"/workspaces/ws1/collections", nil)
	items = decodeJSONArray(t, resp.Body)
	if items[0].(map[string]any)["id"] != plans {
		t.Fatalf("expected renamed collection first, got %v", items)
	}

	// DELETE
	resp = do(t, "DELETE", ts.URL+"/collections/"+plans, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", ts.URL+"/collections/"+plans, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp = do(t, "DELETE", ts.URL+"/collections/"+plans, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for second delete, got %d", resp.StatusCode)
	}
}

func TestCreateValidation(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	resp := do(t, "POST", ts.URL+"/workspaces/ws1/collections", mustJSON(t, map[string]any{"name": "   "}))
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp.Body)
	if body["detail"] == nil {
		t.Fatal("expected detail in error response")
	}

	resp = do(t, "POST", ts.URL+"/workspaces/ws1/collections", []byte("{not json"))
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	id := createCollection(t, ts, "ws1", "Guides")
	resp = do(t, "PUT", ts.URL+"/collections/"+id, mustJSON(t, map[string]any{"name": ""}))
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422 for empty rename, got %d", resp.StatusCode)
	}
	resp = do(t, "PUT", ts.URL+"/collections/missing", mustJSON(t, map[string]any{"name": "x"}))
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMembers(t *testing.T) {
	ts, _ := setup()
	defer ts.Close()

	id := createCollection(t, ts, "ws1", "Guides")

	resp := do(t, "POST", ts.URL+"/collections/"+id+"/members", mustJSON(t, map[string]any{"ids": []string{"a", "b", "a"}}))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON(t, resp.Body)
	if body["added"] != float64(2) {
		t.Fatalf("expected added=2, got %v", body["added"])
	}

	resp = do(t, "GET", ts.URL+"/collections/"+id+"/members", nil)
	ids := decodeJSONArray(t, resp.Body)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected members %v", ids)
	}

	resp = do(t, "POST", ts.URL+"/collections/"+id+"/members/remove", mustJSON(t, map[string]any{"ids": []string{"a"}}))
	body = decodeJSON(t, resp.Body)
	if body["removed"] != float64(1) {
		t.Fatalf("expected removed=1, got %v", body["removed"])
	}

	resp = do(t, "GET", ts.URL+"/collections/missing/members", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp = do(t, "POST", ts.URL+"/collections/missing/members", mustJSON(t, map[string]any{"ids": []string{"a"}}))
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// deleteFirstStore deletes the target collection right before a member
// write, like a concurrent DELETE would.
type deleteFirstStore struct {
	*store.MemoryStore
}

func (s deleteFirstStore) AddMembers(id string, ids []string) (int, error) {
	s.MemoryStore.DeleteCollection(id)
	return s.MemoryStore.AddMembers(id, ids)
}

func TestAddMembersToDeletedCollection(t *testing.T) {
	s := deleteFirstStore{store.NewMemoryStore()}
	ts := httptest.NewServer(handler.New(s, nil))
	defer ts.Close()

	id := createCollection(t, ts, "ws1", "Guides")
	resp := do(t, "POST", ts.URL+"/collections/"+id+"/members", mustJSON(t, map[string]any{"ids": []string{"a"}}))
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	ids, _ := s.Members(id)
	if len(ids) != 0 {
		t.Fatalf("expected no orphan members, got %v", ids)
	}
}
