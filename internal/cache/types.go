package cache

import (
	"context"
	"time"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

// Kind names the snapshot kinds kept per project
type Kind string

const (
	KindEntries Kind = "entries"
	KindMemory  Kind = "memory"
)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Observer is told about every lookup
type Observer interface {
	ObserveCacheLookup(kind Kind, hit bool)
}

// ProjectCache holds per-project snapshots of entries and memory.
// Every Invalidate bumps the snapshot's version; a Set carrying an older
// version is dropped, so a snapshot read before a write is never stored
// after it.
type ProjectCache interface {
	GetEntries(ctx context.Context, project string) ([]privacy.Entry, bool)
	SetEntries(ctx context.Context, project string, version int64, entries []privacy.Entry) bool
	GetMemory(ctx context.Context, project string) ([]memory.Entry, bool)
	SetMemory(ctx context.Context, project string, version int64, entries []memory.Entry) bool
	Version(ctx context.Context, project string, kind Kind) (int64, bool)
	Invalidate(ctx context.Context, project string, kind Kind)
}

type snapshot[T any] struct {
	Items    []T       `json:"items"`
	CachedAt time.Time `json:"cached_at"`
}
