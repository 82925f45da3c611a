package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig locates the redis server holding the outbox or backing the
// API health check. Addr is host:port or a redis:// URL; a URL wins over
// Password and DB.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a lazily connected client shared by the outbox stores.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts. Nothing is dialled until the
// first command; use Healthy to check the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &Redis{Client: redis.NewClient(opts)}, nil
}

// Healthy reports whether the server answers a PING.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
