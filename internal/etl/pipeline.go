package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/store"
)

const maxValueLength = 10000

// Pipeline bulk-loads anonymization entries and project memory from files
type Pipeline struct {
	writer Writer
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// NewPipeline creates a new import pipeline
func NewPipeline(writer Writer, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		writer: writer,
		config: config,
		logger: logger,
		stats:  &ProcessingStats{StartTime: time.Now()},
	}
}

// ProcessFile imports a CSV, Parquet or JSON-lines file
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	format := DetectFileFormat(filePath)
	p.logger.Info("Starting import",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Bool("dry_run", p.config.DryRun))

	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	file, err := os.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, file, result)
	case FormatParquet:
		err = p.processParquet(ctx, file, result)
	case FormatJSON:
		err = p.processJSON(ctx, file, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	p.logger.Info("Import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("entries_inserted", result.EntriesInserted),
		zap.Int64("entries_duplicates", result.EntriesDuplicates),
		zap.Int64("memory_upserted", result.MemoryUpserted),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("failed", result.Failed),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// ProcessReader imports records of the given format from r. Parquet needs
// random access, so r must implement io.ReaderAt for that format.
func (p *Pipeline) ProcessReader(ctx context.Context, r io.Reader, format FileFormat) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, r, result)
	case FormatJSON:
		err = p.processJSON(ctx, r, result)
	case FormatParquet:
		ra, ok := r.(io.ReaderAt)
		if !ok {
			return result, errors.New("parquet input must support random access")
		}
		err = p.processParquet(ctx, ra, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	result.Duration = time.Since(start)
	return result, err
}

// processCSV maps columns by header name, so column order and extra columns
// do not matter
func (p *Pipeline) processCSV(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	_, hasValue := columns["original_value"]
	_, hasMemory := columns["memory_type"]
	if !hasValue && !hasMemory {
		return fmt.Errorf("CSV header needs an original_value or memory_type column, got %v", header)
	}
	p.logger.Debug("CSV header detected", zap.Strings("columns", header))

	field := func(row []string, name string) string {
		if i, ok := columns[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				var parseErr *csv.ParseError
				if !errors.As(err, &parseErr) {
					return nil, fmt.Errorf("failed to read CSV record: %w", err)
				}
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				p.countInvalid(result, err.Error())
				continue
			}
			batch = append(batch, Record{
				Project:       field(row, "project"),
				OriginalValue: field(row, "original_value"),
				EntryType:     field(row, "entry_type"),
				MemoryType:    field(row, "memory_type"),
				Key:           field(row, "key"),
				Value:         field(row, "value"),
			})
		}
		return batch, nil
	}, result)
}

func (p *Pipeline) processParquet(ctx context.Context, r io.ReaderAt, result *ProcessingResult) error {
	reader := parquet.NewReader(r)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, result)
}

// processJSON reads one JSON object per line
func (p *Pipeline) processJSON(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	decoder := json.NewDecoder(r)

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				// the decoder cannot resynchronize after a syntax error
				return nil, fmt.Errorf("failed to read JSON record: %w", err)
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, result)
}

// processBatches processes data in batches using the provided reader function
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]Record, error), result *ProcessingResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.stats.RecordsRead += int64(len(batch))
		p.mu.Unlock()
		result.TotalRecords += int64(len(batch))

		if err := p.processBatch(ctx, batch, result); err != nil {
			return err
		}

		if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) < int64(len(batch)) {
			p.reportProgress(result)
		}
	}
}

// processBatch writes entries grouped per project in one batch call each and
// upserts memory records one by one
func (p *Pipeline) processBatch(ctx context.Context, batch []Record, result *ProcessingResult) error {
	entries := make(map[string][]Record)
	var projects []string
	var memoryRecords []Record

	for _, record := range batch {
		if record.Project == "" {
			record.Project = p.config.Project
		}
		if msg := p.validateRecord(record); msg != "" {
			p.countInvalid(result, msg)
			continue
		}
		p.mu.Lock()
		p.stats.RecordsValid++
		p.mu.Unlock()

		if record.IsMemory() {
			memoryRecords = append(memoryRecords, record)
			continue
		}
		if _, ok := entries[record.Project]; !ok {
			projects = append(projects, record.Project)
		}
		entries[record.Project] = append(entries[record.Project], record)
	}

	if p.config.DryRun {
		return nil
	}

	dbStart := time.Now()
	defer func() { result.DatabaseTime += time.Since(dbStart) }()

	for _, project := range projects {
		items := make([]store.NewEntry, 0, len(entries[project]))
		for _, record := range entries[project] {
			items = append(items, record.entry())
		}
		batchResult, err := p.writer.CreateEntries(ctx, project, items)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("Entry batch failed", zap.String("project", project), zap.Error(err))
			result.Failed += int64(len(items))
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.EntriesInserted += batchResult.Inserted
		result.EntriesDuplicates += batchResult.Duplicates
		result.Failed += batchResult.Failed
		result.Errors = append(result.Errors, batchResult.Errors...)
		p.countWrites(batchResult.Inserted)
	}

	for _, record := range memoryRecords {
		if err := p.writer.UpsertMemory(ctx, record.Project, record.memory()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.MemoryUpserted++
		p.countWrites(1)
	}

	return nil
}

// validateRecord returns why record cannot be imported, or "" when it can
func (p *Pipeline) validateRecord(record Record) string {
	if record.Project == "" {
		return "record has no project"
	}
	if !p.config.ValidateData {
		return ""
	}

	if record.IsMemory() {
		m := record.memory()
		switch {
		case !m.MemoryType.Valid():
			return fmt.Sprintf("invalid memory type %q", record.MemoryType)
		case m.Key == "":
			return "memory record has no key"
		case len(m.Value) > maxValueLength:
			return "memory value too long"
		}
		return ""
	}

	e := record.entry()
	switch {
	case e.OriginalValue == "":
		return "entry has no original value"
	case !e.EntryType.Valid():
		return fmt.Sprintf("invalid entry type %q", record.EntryType)
	case len(e.OriginalValue) > maxValueLength:
		return "original value too long"
	}
	return ""
}

func (p *Pipeline) countInvalid(result *ProcessingResult, msg string) {
	result.Invalid++
	result.Errors = append(result.Errors, msg)

	p.mu.Lock()
	p.stats.RecordsInvalid++
	p.mu.Unlock()
	p.logger.Debug("Invalid record", zap.String("reason", msg))
}

func (p *Pipeline) countWrites(n int64) {
	p.mu.Lock()
	p.stats.DatabaseWrites += n
	p.mu.Unlock()
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	if elapsed > 0 {
		p.stats.ProcessingRate = float64(result.TotalRecords) / elapsed.Seconds()
	}
	rate := p.stats.ProcessingRate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("entries_inserted", result.EntriesInserted),
		zap.Int64("memory_upserted", result.MemoryUpserted),
		zap.Int64("invalid", result.Invalid),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
