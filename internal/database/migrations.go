package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns all available migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_conversation_tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS conversations (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					create_time REAL,
					update_time REAL,
					message_count INTEGER NOT NULL DEFAULT 0,
					model_slug TEXT,
					full_text TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS messages (
					conversation_id TEXT NOT NULL,
					idx INTEGER NOT NULL,
					role TEXT NOT NULL,
					content TEXT NOT NULL,
					timestamp REAL,
					source_node_id TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (conversation_id, idx),
					FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id);
				CREATE INDEX IF NOT EXISTS idx_conversations_create_time ON conversations (create_time);
			`,
		},
		{
			Version: 2,
			Name:    "create_chunk_tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS chunks (
					id TEXT PRIMARY KEY,
					conversation_id TEXT NOT NULL,
					message_idx INTEGER NOT NULL,
					chunk_index INTEGER NOT NULL,
					start_offset INTEGER NOT NULL,
					end_offset INTEGER NOT NULL,
					text TEXT NOT NULL,
					timestamp REAL,
					embedding_state TEXT NOT NULL DEFAULT 'pending',
					FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_chunks_conversation ON chunks (conversation_id);
			`,
		},
		{
			Version: 3,
			Name:    "create_fts_indexes",
			SQL: `
				CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
					text,
					content=chunks,
					content_rowid=rowid,
					tokenize='porter unicode61'
				);

				CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
					INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
				END;

				CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
					INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
				END;

				CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
					INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
					INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
				END;

				CREATE VIRTUAL TABLE IF NOT EXISTS conversations_fts USING fts5(
					title,
					full_text,
					content=conversations,
					content_rowid=rowid,
					tokenize='porter unicode61'
				);

				CREATE TRIGGER IF NOT EXISTS conversations_ai AFTER INSERT ON conversations BEGIN
					INSERT INTO conversations_fts(rowid, title, full_text)
					VALUES (new.rowid, new.title, new.full_text);
				END;

				CREATE TRIGGER IF NOT EXISTS conversations_ad AFTER DELETE ON conversations BEGIN
					INSERT INTO conversations_fts(conversations_fts, rowid, title, full_text)
					VALUES ('delete', old.rowid, old.title, old.full_text);
				END;

				CREATE TRIGGER IF NOT EXISTS conversations_au AFTER UPDATE ON conversations BEGIN
					INSERT INTO conversations_fts(conversations_fts, rowid, title, full_text)
					VALUES ('delete', old.rowid, old.title, old.full_text);
					INSERT INTO conversations_fts(rowid, title, full_text)
					VALUES (new.rowid, new.title, new.full_text);
				END;
			`,
		},
		{
			Version: 4,
			Name:    "create_import_runs_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS import_runs (
					id TEXT PRIMARY KEY,
					started_at REAL NOT NULL,
					finished_at REAL NOT NULL,
					archive_path TEXT NOT NULL,
					conversations_found INTEGER NOT NULL DEFAULT 0,
					conversations_imported INTEGER NOT NULL DEFAULT 0,
					conversations_skipped INTEGER NOT NULL DEFAULT 0,
					conversations_failed INTEGER NOT NULL DEFAULT 0,
					messages_imported INTEGER NOT NULL DEFAULT 0,
					chunks_written INTEGER NOT NULL DEFAULT 0
				);
			`,
		},
	}
}

// RunMigrations applies all pending migrations in order.
func RunMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue // Already applied
		}
		if err := runMigration(db, migration); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func runMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
		migration.Version, migration.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Open opens a SQLite database at path, applies connection settings and
// runs all pending migrations.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ConfigureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ConfigureDatabase applies SQLite settings and runs migrations.
func ConfigureDatabase(db *sql.DB) error {
	// SQLite serializes writes, so limit connections to avoid contention.
	// WAL mode allows concurrent readers, so we allow a few connections.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma '%s': %w", pragma, err)
		}
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
