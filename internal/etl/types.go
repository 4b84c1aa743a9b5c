package etl

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

// Record is one row of an import or export file. A row with a memory type is
// a project memory record, any other row is an anonymization entry.
type Record struct {
	Project       string `csv:"project" parquet:"project" json:"project,omitempty"`
	OriginalValue string `csv:"original_value" parquet:"original_value" json:"original_value,omitempty"`
	EntryType     string `csv:"entry_type" parquet:"entry_type" json:"entry_type,omitempty"`
	MemoryType    string `csv:"memory_type" parquet:"memory_type" json:"memory_type,omitempty"`
	Key           string `csv:"key" parquet:"key" json:"key,omitempty"`
	Value         string `csv:"value" parquet:"value" json:"value,omitempty"`
}

// IsMemory reports whether the record is a project memory record
func (r Record) IsMemory() bool {
	return r.MemoryType != ""
}

func (r Record) entry() store.NewEntry {
	return store.NewEntry{
		OriginalValue: strings.TrimSpace(r.OriginalValue),
		EntryType:     privacy.EntryType(strings.ToLower(strings.TrimSpace(r.EntryType))),
	}
}

func (r Record) memory() memory.Entry {
	return memory.Entry{
		MemoryType: memory.Type(strings.ToLower(strings.TrimSpace(r.MemoryType))),
		Key:        strings.TrimSpace(r.Key),
		Value:      strings.TrimSpace(r.Value),
	}
}

// Writer receives imported records
type Writer interface {
	CreateEntries(ctx context.Context, project string, items []store.NewEntry) (*store.BatchResult, error)
	UpsertMemory(ctx context.Context, project string, entry memory.Entry) error
}

// Reader supplies records for export
type Reader interface {
	ListEntries(ctx context.Context, project string) ([]privacy.Entry, error)
	ListMemory(ctx context.Context, project string) ([]memory.Entry, error)
}

// ProcessingResult represents the result of processing a file
type ProcessingResult struct {
	TotalRecords      int64         `json:"total_records"`
	EntriesInserted   int64         `json:"entries_inserted"`
	EntriesDuplicates int64         `json:"entries_duplicates"`
	MemoryUpserted    int64         `json:"memory_upserted"`
	Invalid           int64         `json:"invalid"`
	Failed            int64         `json:"failed"`
	Duration          time.Duration `json:"duration"`
	DatabaseTime      time.Duration `json:"database_time"`
	Errors            []string      `json:"errors,omitempty"`
}

// Config contains import configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	Project        string        `yaml:"project" mapstructure:"project"`                 // used when a row names none
	ValidateData   bool          `yaml:"validate_data" mapstructure:"validate_data"`     // true
	DryRun         bool          `yaml:"dry_run" mapstructure:"dry_run"`                 // false
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 5m
}

// DefaultConfig returns the import defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		ValidateData:   true,
		ProgressReport: 1000,
		Timeout:        5 * time.Minute,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	DatabaseWrites int64     `json:"database_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
