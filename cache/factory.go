package cache

import (
	"fmt"
	"path/filepath"
	"time"
)

// Options selects and configures a cache backend.
type Options struct {
	// Backend is one of "sqlite" (default), "json", "redis" or "memory".
	Backend string
	// Dir holds the sqlite database or the json files.
	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces redis keys.
	KeyPrefix string
	// TTL applies to redis entries only; zero keeps entries until invalidated.
	TTL time.Duration
}

// New creates a Cache based on opts.Backend.
//
// Supported backends:
//
//	"sqlite" - SQLite database at Dir/cache.db (default)
//	"json"   - one JSON file per scope in Dir
//	"redis"  - Redis at RedisAddr
//	"memory" - in-memory (ephemeral, for testing)
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case "sqlite", "":
		return NewSqliteCache(filepath.Join(opts.Dir, "cache.db"))
	case "json":
		return NewJsonFileCache(opts.Dir)
	case "redis":
		return NewRedisCache(RedisOptions{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.KeyPrefix,
			TTL:       opts.TTL,
		})
	case "memory":
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q (supported: sqlite, json, redis, memory)", opts.Backend)
	}
}
