package store

// Driver names accepted by Open
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS anonymization_entries (
		id              BIGSERIAL PRIMARY KEY,
		project         TEXT NOT NULL,
		original_value  TEXT NOT NULL,
		anonymized_code TEXT NOT NULL,
		entry_type      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project, anonymized_code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymization_entries_original
		ON anonymization_entries (project, lower(original_value))`,
	`CREATE TABLE IF NOT EXISTS project_memory (
		id          BIGSERIAL PRIMARY KEY,
		project     TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		mem_key     TEXT NOT NULL,
		mem_value   TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project, memory_type, mem_key)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS anonymization_entries (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		project         TEXT NOT NULL,
		original_value  TEXT NOT NULL,
		anonymized_code TEXT NOT NULL,
		entry_type      TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (project, anonymized_code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymization_entries_original
		ON anonymization_entries (project, original_value COLLATE NOCASE)`,
	`CREATE TABLE IF NOT EXISTS project_memory (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		project     TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		mem_key     TEXT NOT NULL,
		mem_value   TEXT NOT NULL,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (project, memory_type, mem_key)
	)`,
}
