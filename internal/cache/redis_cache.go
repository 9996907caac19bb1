package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRequestCache implements RequestCache on Redis so issued requests
// survive restarts of the process
type RedisRequestCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOptions configures the Redis request cache
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // 0 keeps entries forever
}

// NewRedisRequestCache connects to Redis and verifies the connection
func NewRedisRequestCache(opts RedisOptions, logger *zap.Logger) (*RedisRequestCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRequestCacheWithClient(client, opts.KeyPrefix, opts.TTL, logger), nil
}

// NewRedisRequestCacheWithClient wraps an existing client
func NewRedisRequestCacheWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisRequestCache {
	if prefix == "" {
		prefix = "localsync:request:"
	}
	return &RedisRequestCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves an entry
func (c *RedisRequestCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read request cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal request cache entry: %w", err)
	}
	return entry, true, nil
}

// MarkIssued records a network answer for key
func (c *RedisRequestCache) MarkIssued(ctx context.Context, key string, resultCount int) error {
	entry, _, err := c.Get(ctx, key)
	if err != nil {
		return err
	}

	entry.Issued = true
	if resultCount >= 0 {
		entry.LastResultCount = resultCount
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal request cache entry: %w", err)
	}
	return c.client.Set(ctx, c.buildKey(key), data, c.ttl).Err()
}

// Invalidate removes one entry
func (c *RedisRequestCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.buildKey(key)).Err()
}

// Reset removes every entry under the key prefix
func (c *RedisRequestCache) Reset(ctx context.Context) error {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan request cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete request cache keys: %w", err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Request cache reset", zap.Int("entries", removed))
	return nil
}

// Size counts the entries under the key prefix
func (c *RedisRequestCache) Size(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan request cache: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping checks the Redis connection
func (c *RedisRequestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisRequestCache) Close() error {
	return c.client.Close()
}

func (c *RedisRequestCache) buildKey(key string) string {
	return c.prefix + key
}
