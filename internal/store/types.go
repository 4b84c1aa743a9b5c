package store

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalid is returned when a record fails validation before it is written
	ErrInvalid = errors.New("invalid record")
)

// Store persists anonymization entries and project memory per project
type Store interface {
	ListEntries(ctx context.Context, project string) ([]privacy.Entry, error)
	CreateEntry(ctx context.Context, project, original string, entryType privacy.EntryType) (privacy.Entry, error)
	CreateEntries(ctx context.Context, project string, items []NewEntry) (*BatchResult, error)
	DeleteEntry(ctx context.Context, project, code string) error

	ListMemory(ctx context.Context, project string) ([]memory.Entry, error)
	UpsertMemory(ctx context.Context, project string, entry memory.Entry) error
	DeleteMemory(ctx context.Context, project string, memoryType memory.Type, key string) error

	Close() error
}

// NewEntry is an entry before a code has been assigned
type NewEntry struct {
	OriginalValue string            `json:"original_value"`
	EntryType     privacy.EntryType `json:"entry_type"`
}

// BatchResult represents the result of a batch insert operation
type BatchResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`
}

// Config contains database configuration
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

type entryRow struct {
	OriginalValue  string `db:"original_value"`
	AnonymizedCode string `db:"anonymized_code"`
	EntryType      string `db:"entry_type"`
}

type memoryRow struct {
	MemoryType string `db:"memory_type"`
	Key        string `db:"mem_key"`
	Value      string `db:"mem_value"`
}
