package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pliakos/crewd/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the best-effort persistence layer. The orchestrator and the
// collaboration protocols record state transitions here so an external
// audit layer can read them back; no coordination decision depends on a
// write succeeding.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			name            TEXT NOT NULL,
			capabilities    TEXT,
			status          TEXT NOT NULL,
			current_task    TEXT,
			tasks_completed INTEGER DEFAULT 0,
			tasks_failed    INTEGER DEFAULT 0,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_active     DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT,
			description  TEXT NOT NULL,
			priority     INTEGER DEFAULT 0,
			dependencies TEXT,
			requirements TEXT,
			status       TEXT NOT NULL,
			result       TEXT,
			error        TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at   DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS collab_runs (
			id           TEXT PRIMARY KEY,
			protocol     TEXT NOT NULL,
			task         TEXT NOT NULL,
			agents       TEXT NOT NULL,
			status       TEXT DEFAULT 'running',
			output       TEXT,
			outputs      TEXT,
			metadata     TEXT,
			duration_ms  INTEGER,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collab_runs_protocol ON collab_runs(protocol, started_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			agent_id   TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
