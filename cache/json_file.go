package cache

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stevemurr/library-sync/model"
)

// JsonFileCache stores each scope's snapshot as a separate JSON file.
//
// Layout:
//
//	dir/
//	  ws1.snapshot.json
//	  team%2Fdocs.snapshot.json   # scopes are path-escaped
type JsonFileCache struct {
	mu  sync.RWMutex
	dir string
}

const snapshotSuffix = ".snapshot.json"

func NewJsonFileCache(dir string) (*JsonFileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileCache{dir: dir}, nil
}

func (c *JsonFileCache) path(scope string) string {
	return filepath.Join(c.dir, url.PathEscape(scope)+snapshotSuffix)
}

func (c *JsonFileCache) Get(_ context.Context, scope string) (*model.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := os.ReadFile(c.path(scope))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return decode(data), nil
}

// Set writes to a temp file and renames it so readers never see a torn file.
func (c *JsonFileCache) Set(_ context.Context, scope string, snap *model.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.path(scope)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *JsonFileCache) Invalidate(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.path(scope))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *JsonFileCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (c *JsonFileCache) Close() error { return nil }
