package store

import (
	"fmt"
)

// Options carries the backend-specific settings consumed by Open.
type Options struct {
	// Path is the sqlite database file or the badger directory.
	Path string

	// Redis is used by the "redis" backend only.
	Redis RedisConfig
}

// Open creates a Store for the configured backend. An empty backend selects
// memory, matching local iteration without a data directory.
func Open(backend string, opts Options) (Store, error) {
	switch backend {
	case "sqlite":
		return NewSqliteStore(opts.Path)
	case "memory", "":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(opts.Path)
	case "redis":
		return NewRedisStore(opts.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
