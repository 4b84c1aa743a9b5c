package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
)

// SQLStore persists entries and memory in PostgreSQL or SQLite
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database and creates the schema
func Open(ctx context.Context, config *Config, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var schema []string
	switch config.Driver {
	case DriverPostgres:
		schema = postgresSchema
	case DriverSQLite:
		schema = sqliteSchema
		if err := ensureSQLiteDir(config.DSN); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", config.Driver)
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.Driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &SQLStore{db: db, driver: config.Driver, logger: logger}

	if err := store.initialize(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Store initialized successfully",
		zap.String("driver", config.Driver),
		zap.String("dsn", maskDatabaseURL(config.DSN)))

	return store, nil
}

func (s *SQLStore) initialize(ctx context.Context, schema []string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// ListEntries returns the project's entries in creation order
func (s *SQLStore) ListEntries(ctx context.Context, project string) ([]privacy.Entry, error) {
	var rows []entryRow
	query := s.db.Rebind(`
		SELECT original_value, anonymized_code, entry_type
		FROM anonymization_entries
		WHERE project = ?
		ORDER BY id`)

	if err := s.db.SelectContext(ctx, &rows, query, project); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]privacy.Entry, len(rows))
	for i, r := range rows {
		entries[i] = privacy.Entry{
			OriginalValue:  r.OriginalValue,
			AnonymizedCode: r.AnonymizedCode,
			EntryType:      privacy.EntryType(r.EntryType),
		}
	}
	return entries, nil
}

// CreateEntry registers original under the next free code for its type.
// An existing entry with the same value (case-insensitive) is returned as is.
func (s *SQLStore) CreateEntry(ctx context.Context, project, original string, entryType privacy.EntryType) (privacy.Entry, error) {
	var entry privacy.Entry
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockProject(ctx, tx, project); err != nil {
			return err
		}
		var created bool
		var err error
		entry, created, err = s.createEntry(ctx, tx, project, original, entryType)
		if err == nil && !created {
			s.logger.Debug("Entry already registered", zap.String("code", entry.AnonymizedCode))
		}
		return err
	})
	if err != nil {
		return privacy.Entry{}, err
	}

	s.logger.Debug("Entry stored",
		zap.String("project", project),
		zap.String("code", entry.AnonymizedCode),
		zap.String("entry_type", string(entry.EntryType)))
	return entry, nil
}

// CreateEntries registers many values in one transaction.
// Invalid items are counted as failed and do not abort the batch.
func (s *SQLStore) CreateEntries(ctx context.Context, project string, items []NewEntry) (*BatchResult, error) {
	result := &BatchResult{}
	if len(items) == 0 {
		return result, nil
	}

	start := time.Now()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockProject(ctx, tx, project); err != nil {
			return err
		}
		for _, item := range items {
			_, created, err := s.createEntry(ctx, tx, project, item.OriginalValue, item.EntryType)
			switch {
			case errors.Is(err, privacy.ErrInvalidCategory), errors.Is(err, errEmptyValue):
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
			case err != nil:
				return err
			case created:
				result.Inserted++
			default:
				result.Duplicates++
			}
		}
		return nil
	})
	result.Duration = time.Since(start)

	if err != nil {
		result.Failed = int64(len(items))
		result.Inserted = 0
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	s.logger.Info("Batch insert completed",
		zap.String("project", project),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// projectLockQuery returns the statement that serializes code generation
// for one project until the transaction ends. SQLite needs none: its single
// connection already serializes writers.
func projectLockQuery(driver string) string {
	if driver == DriverPostgres {
		return `SELECT pg_advisory_xact_lock(hashtext($1))`
	}
	return ""
}

// lockProject keeps concurrent transactions from reading the same code set
// and generating the same code
func (s *SQLStore) lockProject(ctx context.Context, tx *sqlx.Tx, project string) error {
	query := projectLockQuery(s.driver)
	if query == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	return nil
}

var errEmptyValue = fmt.Errorf("%w: original value is empty", ErrInvalid)

func (s *SQLStore) createEntry(ctx context.Context, tx *sqlx.Tx, project, original string, entryType privacy.EntryType) (privacy.Entry, bool, error) {
	original = strings.TrimSpace(original)
	if original == "" {
		return privacy.Entry{}, false, errEmptyValue
	}
	if !entryType.Valid() {
		return privacy.Entry{}, false, fmt.Errorf("%w: %q", privacy.ErrInvalidCategory, entryType)
	}

	var existing []entryRow
	query := tx.Rebind(`
		SELECT original_value, anonymized_code, entry_type
		FROM anonymization_entries
		WHERE project = ?`)
	if err := tx.SelectContext(ctx, &existing, query, project); err != nil {
		return privacy.Entry{}, false, fmt.Errorf("failed to load codes: %w", err)
	}

	codes := make([]string, len(existing))
	for i, r := range existing {
		if strings.EqualFold(r.OriginalValue, original) {
			return privacy.Entry{
				OriginalValue:  r.OriginalValue,
				AnonymizedCode: r.AnonymizedCode,
				EntryType:      privacy.EntryType(r.EntryType),
			}, false, nil
		}
		codes[i] = r.AnonymizedCode
	}

	code, err := privacy.GenerateCode(entryType, codes)
	if err != nil {
		return privacy.Entry{}, false, err
	}

	insert := tx.Rebind(`
		INSERT INTO anonymization_entries (project, original_value, anonymized_code, entry_type)
		VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, project, original, code, string(entryType)); err != nil {
		return privacy.Entry{}, false, fmt.Errorf("failed to insert entry: %w", err)
	}

	return privacy.Entry{OriginalValue: original, AnonymizedCode: code, EntryType: entryType}, true, nil
}

// DeleteEntry removes the entry with the given code
func (s *SQLStore) DeleteEntry(ctx context.Context, project, code string) error {
	query := s.db.Rebind(`DELETE FROM anonymization_entries WHERE project = ? AND anonymized_code = ?`)
	return s.execOne(ctx, query, project, code)
}

// ListMemory returns the project's memory entries in insertion order
func (s *SQLStore) ListMemory(ctx context.Context, project string) ([]memory.Entry, error) {
	var rows []memoryRow
	query := s.db.Rebind(`
		SELECT memory_type, mem_key, mem_value
		FROM project_memory
		WHERE project = ?
		ORDER BY id`)

	if err := s.db.SelectContext(ctx, &rows, query, project); err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}

	entries := make([]memory.Entry, len(rows))
	for i, r := range rows {
		entries[i] = memory.Entry{MemoryType: memory.Type(r.MemoryType), Key: r.Key, Value: r.Value}
	}
	return entries, nil
}

// UpsertMemory inserts or updates a memory entry, keeping its position
func (s *SQLStore) UpsertMemory(ctx context.Context, project string, entry memory.Entry) error {
	if !entry.MemoryType.Valid() {
		return fmt.Errorf("%w: memory type %q", ErrInvalid, entry.MemoryType)
	}
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("%w: memory key is empty", ErrInvalid)
	}

	query := s.db.Rebind(`
		INSERT INTO project_memory (project, memory_type, mem_key, mem_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project, memory_type, mem_key)
		DO UPDATE SET mem_value = excluded.mem_value, updated_at = CURRENT_TIMESTAMP`)

	if _, err := s.db.ExecContext(ctx, query, project, string(entry.MemoryType), entry.Key, entry.Value); err != nil {
		return fmt.Errorf("failed to upsert memory: %w", err)
	}
	return nil
}

// DeleteMemory removes one memory entry
func (s *SQLStore) DeleteMemory(ctx context.Context, project string, memoryType memory.Type, key string) error {
	query := s.db.Rebind(`DELETE FROM project_memory WHERE project = ? AND memory_type = ? AND mem_key = ?`)
	return s.execOne(ctx, query, project, string(memoryType), key)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	return nil
}

// maskDatabaseURL masks the password in a connection string for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
