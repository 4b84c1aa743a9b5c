package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

// EntryCache keeps JSON snapshots of project entries and memory in Redis
type EntryCache struct {
	client   *redis.Client
	config   *Config
	logger   *zap.Logger
	observer Observer
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewEntryCache creates a new Redis-backed snapshot cache
func NewEntryCache(config *Config, logger *zap.Logger, observer Observer) (*EntryCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := &EntryCache{
		client:   redis.NewClient(opts),
		config:   config,
		logger:   logger,
		observer: observer,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		_ = cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Entry cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// GetEntries returns the cached entries of a project
func (c *EntryCache) GetEntries(ctx context.Context, project string) ([]privacy.Entry, bool) {
	return get[privacy.Entry](ctx, c, KindEntries, project)
}

// SetEntries caches the entries of a project read at version
func (c *EntryCache) SetEntries(ctx context.Context, project string, version int64, entries []privacy.Entry) bool {
	return set(ctx, c, KindEntries, project, version, entries)
}

// GetMemory returns the cached memory entries of a project
func (c *EntryCache) GetMemory(ctx context.Context, project string) ([]memory.Entry, bool) {
	return get[memory.Entry](ctx, c, KindMemory, project)
}

// SetMemory caches the memory entries of a project read at version
func (c *EntryCache) SetMemory(ctx context.Context, project string, version int64, entries []memory.Entry) bool {
	return set(ctx, c, KindMemory, project, version, entries)
}

// Version returns the current snapshot version of a project. A missing
// counter is version 0.
func (c *EntryCache) Version(ctx context.Context, project string, kind Kind) (int64, bool) {
	key := versionKey(c.config.KeyPrefix, kind, project)
	version, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, true
	} else if err != nil {
		c.logger.Warn("Failed to read snapshot version", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return version, true
}

// Invalidate drops one snapshot of a project and bumps its version
func (c *EntryCache) Invalidate(ctx context.Context, project string, kind Kind) {
	key := projectKey(c.config.KeyPrefix, kind, project)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(c.config.KeyPrefix, kind, project))
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to invalidate cache key", zap.String("key", key), zap.Error(err))
	}
}

func get[T any](ctx context.Context, c *EntryCache, kind Kind, project string) ([]T, bool) {
	key := projectKey(c.config.KeyPrefix, kind, project)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.record(kind, false)
		c.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		c.record(kind, false)
		c.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Error("Failed to unmarshal cached snapshot", zap.Error(err))
		// Delete corrupted cache entry
		c.client.Del(ctx, key)
		c.record(kind, false)
		return nil, false
	}

	c.record(kind, true)
	c.logger.Debug("Cache hit", zap.String("key", key), zap.Int("items", len(snap.Items)))
	return snap.Items, true
}

// errStaleSnapshot aborts a set whose snapshot was read before a write
var errStaleSnapshot = errors.New("snapshot version changed")

func set[T any](ctx context.Context, c *EntryCache, kind Kind, project string, version int64, items []T) bool {
	key := projectKey(c.config.KeyPrefix, kind, project)
	vkey := versionKey(c.config.KeyPrefix, kind, project)

	data, err := json.Marshal(snapshot[T]{Items: items, CachedAt: time.Now()})
	if err != nil {
		c.logger.Error("Failed to marshal snapshot for caching", zap.Error(err))
		return false
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.config.DefaultTTL)
			return nil
		})
		return err
	}, vkey)

	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleSnapshot) || errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("Skipped stale snapshot", zap.String("key", key), zap.Int64("version", version))
	default:
		c.logger.Error("Failed to cache snapshot", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (c *EntryCache) record(kind Kind, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer.ObserveCacheLookup(kind, hit)
	}
}

// GetStats returns cache performance statistics
func (c *EntryCache) GetStats(ctx context.Context) (*CacheStats, error) {
	// Get Redis info
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}

	// Calculate hit rate
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	stats.MemoryUsage = parseUsedMemory(info)

	// Get total keys count
	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every snapshot under the key prefix
func (c *EntryCache) Clear(ctx context.Context) error {
	pattern := c.config.KeyPrefix + ":*"

	// Use SCAN to find all keys with our prefix
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *EntryCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func projectKey(prefix string, kind Kind, project string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, kind, project)
}

func versionKey(prefix string, kind Kind, project string) string {
	return projectKey(prefix, kind, project) + ":version"
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || colon == strings.Index(userPart, "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
