package store

import (
	"fmt"
	"path/filepath"
)

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"sqlite" - SQLite database at dataDir/library.db (default)
//	"memory" - In-memory (ephemeral, for testing)
func New(backend, dataDir string) (Store, error) {
	switch backend {
	case "sqlite", "":
		dbPath := filepath.Join(dataDir, "library.db")
		return NewSqliteStore(dbPath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: sqlite, memory)", backend)
	}
}
