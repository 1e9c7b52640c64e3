package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Key prefix for cached results
	cacheKeyPrefix = "query:"

	// Key prefix for the set of cached keys scoped to a document
	docKeyPrefix = "doc:"

	// Set of cached keys computed over every document
	unscopedKey = "scope:all"
)

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
	}, nil
}

func (c *RedisCache) GetAnswer(ctx context.Context, key string) (*Answer, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var answer Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *RedisCache) SetAnswer(ctx context.Context, key string, answer *Answer, scope []uuid.UUID, ttl time.Duration) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}

	sets := []string{unscopedKey}
	if len(scope) > 0 {
		sets = sets[:0]
		for _, id := range scope {
			sets = append(sets, docKeyPrefix+id.String())
		}
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, cacheKeyPrefix+key, data, ttl)
	for _, set := range sets {
		pipe.SAdd(ctx, set, key)
		if ttl > 0 {
			pipe.Expire(ctx, set, ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) InvalidateDocument(ctx context.Context, docID uuid.UUID) error {
	sets := []string{docKeyPrefix + docID.String(), unscopedKey}
	keys, err := c.client.SUnion(ctx, sets...).Result()
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, cacheKeyPrefix+key)
	}
	pipe.Del(ctx, sets...)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the cache connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
