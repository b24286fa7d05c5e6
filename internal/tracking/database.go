package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const memoryDatabase = ":memory:"

// NewDatabase creates a new SQLite database with the specified path and applies the schema
func NewDatabase(dbPath string) (*sql.DB, error) {
	slog.Debug("opening tracking database", "path", dbPath)

	if dbPath != memoryDatabase {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would be a separate database
	if dbPath == memoryDatabase {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	slog.Info("tracking database ready", "path", dbPath)
	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS extraction_events (
    id             INTEGER PRIMARY KEY,
    timestamp      INTEGER NOT NULL,
    session_id     TEXT    NOT NULL,
    asset_id       TEXT    NOT NULL,
    asset_name     TEXT    NOT NULL,
    range_start    REAL    NOT NULL,
    range_duration REAL    NOT NULL,
    range_key      TEXT    NOT NULL,
    width          INTEGER NOT NULL CHECK (width > 0),
    channels       TEXT    NOT NULL,
    status         TEXT    NOT NULL CHECK (status IN ('completed', 'failed', 'cancelled', 'hit', 'coalesced')),
    elapsed_us     INTEGER NOT NULL CHECK (elapsed_us >= 0),
    error          TEXT
);

CREATE INDEX IF NOT EXISTS idx_extractions_timestamp ON extraction_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_extractions_asset ON extraction_events(asset_id);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extraction_events(status);
CREATE INDEX IF NOT EXISTS idx_extractions_session ON extraction_events(session_id);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
