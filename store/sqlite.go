package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stevemurr/library-sync/model"
)

// SqliteStore stores every workspace in a single SQLite database.
//
// Tables:
//
//	collections(id, workspace_id, name, description, tags, color, order_index, created_at, updated_at)
//	members(collection_id, member_id, position)  PRIMARY KEY (collection_id, member_id)
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

const timeLayout = time.RFC3339Nano

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
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
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS collections_workspace ON collections (workspace_id)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS members (
		collection_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (collection_id, member_id)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

const collectionColumns = "id, workspace_id, name, description, tags, color, order_index, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(row scanner) (model.Collection, error) {
	var c model.Collection
	var created, updated string
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Description, &c.Tags, &c.Color,
		&c.OrderIndex, &created, &updated); err != nil {
		return c, err
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	c.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return c, nil
}

func (s *SqliteStore) ListCollections(workspace string) ([]model.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT "+collectionColumns+" FROM collections WHERE workspace_id = ?", workspace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []model.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortCollections(result)
	return result, nil
}

func (s *SqliteStore) GetCollection(id string) (*model.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *SqliteStore) getLocked(id string) (*model.Collection, error) {
	c, err := scanCollection(s.db.QueryRow("SELECT "+collectionColumns+" FROM collections WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SqliteStore) CreateCollection(c model.Collection) (model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next int
	if err := s.db.QueryRow(
		"SELECT COALESCE(MAX(order_index) + 1, 0) FROM collections WHERE workspace_id = ?",
		c.WorkspaceID,
	).Scan(&next); err != nil {
		return c, err
	}
	c.OrderIndex = next
	_, err := s.db.Exec(
		"INSERT INTO collections ("+collectionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.WorkspaceID, c.Name, c.Description, c.Tags, c.Color, c.OrderIndex,
		c.CreatedAt.UTC().Format(timeLayout), c.UpdatedAt.UTC().Format(timeLayout),
	)
	return c, err
}

func (s *SqliteStore) UpdateCollection(id string, patch model.CollectionPatch, now time.Time) (*model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.getLocked(id)
	if err != nil || existing == nil {
		return nil, err
	}
	c := patch.ApplyTo(*existing, now)
	_, err = s.db.Exec(
		`UPDATE collections SET name = ?, description = ?, tags = ?, color = ?, order_index = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Description, c.Tags, c.Color, c.OrderIndex, c.UpdatedAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SqliteStore) DeleteCollection(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.Exec("DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM members WHERE collection_id = ?", id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SqliteStore) Members(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT member_id FROM members WHERE collection_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			return nil, err
		}
		ids = append(ids, mid)
	}
	return ids, rows.Err()
}

func (s *SqliteStore) AddMembers(id string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := requireCollectionTx(tx, id); err != nil {
		return 0, err
	}
	var next int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(position) + 1, 0) FROM members WHERE collection_id = ?", id,
	).Scan(&next); err != nil {
		return 0, err
	}
	added := 0
	for _, mid := range model.DedupeIDs(ids) {
		res, err := tx.Exec(
			"INSERT OR IGNORE INTO members (collection_id, member_id, position) VALUES (?, ?, ?)",
			id, mid, next,
		)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
			next++
		}
	}
	return added, tx.Commit()
}

func (s *SqliteStore) RemoveMembers(id string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := requireCollectionTx(tx, id); err != nil {
		return 0, err
	}
	removed := 0
	for _, mid := range model.DedupeIDs(ids) {
		res, err := tx.Exec("DELETE FROM members WHERE collection_id = ? AND member_id = ?", id, mid)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, tx.Commit()
}

func requireCollectionTx(tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRow("SELECT 1 FROM collections WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoCollection
	}
	return err
}
