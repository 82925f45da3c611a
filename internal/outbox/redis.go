package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the queue in a Redis list, one JSON item per element.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore stores the queue under key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "presence:outbox"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]Item, error) {
	values, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}
	items := make([]Item, 0, len(values))
	for _, v := range values {
		var item Item
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", s.key, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Save replaces the list atomically with DEL + RPUSH in a MULTI block.
func (s *RedisStore) Save(ctx context.Context, items []Item) error {
	values := make([]any, 0, len(items))
	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.ID, err)
		}
		values = append(values, string(body))
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.RPush(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}
