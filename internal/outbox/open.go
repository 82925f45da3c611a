package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"presence/internal/store"
)

// StoreConfig selects where the queue and its dead letters live.
type StoreConfig struct {
	Backend   string // sqlite, redis, file or memory
	Path      string // sqlite database or JSON file
	Redis     store.RedisConfig
	Key       string // redis key prefix
}

// Stores is an opened pair of pending and dead-letter stores.
type Stores struct {
	Pending     DurableStore
	DeadLetters DurableStore
	closer      io.Closer
}

// Close releases the underlying connection.
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStores opens the configured backend.
func OpenStores(ctx context.Context, cfg StoreConfig) (Stores, error) {
	switch cfg.Backend {
	case "", "sqlite":
		db, err := store.NewSQLite(cfg.Path)
		if err != nil {
			return Stores{}, err
		}
		pending, err := NewSQLiteStore(ctx, db, "pending")
		if err != nil {
			db.Close()
			return Stores{}, err
		}
		dead, err := NewSQLiteStore(ctx, db, "dead")
		if err != nil {
			db.Close()
			return Stores{}, err
		}
		return Stores{Pending: pending, DeadLetters: dead, closer: db}, nil

	case "redis":
		if cfg.Redis.Addr == "" {
			return Stores{}, errors.New("outbox: REDIS_ADDR required for the redis backend")
		}
		r, err := store.NewRedis(cfg.Redis)
		if err != nil {
			return Stores{}, fmt.Errorf("outbox: %w", err)
		}
		if !r.Healthy(ctx) {
			r.Close()
			return Stores{}, fmt.Errorf("outbox: redis at %s not reachable", r.Client.Options().Addr)
		}
		key := cfg.Key
		if key == "" {
			key = "presence:outbox"
		}
		return Stores{
			Pending:     NewRedisStore(r.Client, key),
			DeadLetters: NewRedisStore(r.Client, key+":dead"),
			closer:      r,
		}, nil

	case "file":
		base := strings.TrimSuffix(cfg.Path, filepath.Ext(cfg.Path))
		return Stores{
			Pending:     NewFileStore(base + ".json"),
			DeadLetters: NewFileStore(base + ".dead.json"),
		}, nil

	case "memory":
		return Stores{Pending: NewMemoryStore(), DeadLetters: NewMemoryStore()}, nil
	}
	return Stores{}, fmt.Errorf("outbox: unknown backend %q", cfg.Backend)
}
