package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stevemurr/library-sync/model"
)

// SqliteCache stores every scope's snapshot in a single SQLite database.
//
// Tables:
//
//	snapshots(scope, data, updated_at)  PRIMARY KEY (scope)
type SqliteCache struct {
	db *sql.DB
}

func NewSqliteCache(dbPath string) (*SqliteCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		scope TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteCache{db: db}, nil
}

func (s *SqliteCache) Close() error {
	return s.db.Close()
}

func (s *SqliteCache) Get(ctx context.Context, scope string) (*model.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE scope = ?", scope).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode([]byte(raw)), nil
}

func (s *SqliteCache) Set(ctx context.Context, scope string, snap *model.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (scope, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(scope) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		scope, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SqliteCache) Invalidate(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE scope = ?", scope)
	return err
}

func (s *SqliteCache) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots")
	return err
}
