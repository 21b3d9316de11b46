package stencil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const depSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	compiled_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS dependencies (
	template TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	dependency TEXT NOT NULL,
	PRIMARY KEY (template, dependency)
);
CREATE INDEX IF NOT EXISTS idx_dependencies_dependency ON dependencies(dependency);
`

// DepStore is a sqlite-backed index of the templates each compiled template was composed
// from. It survives restarts, so tools can answer "what is affected by this change"
// without recompiling the whole tree.
type DepStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenDepStore opens or creates the dependency index at dbPath. The special path
// ":memory:" creates a private in-memory index.
func OpenDepStore(dbPath string) (*DepStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create dependency store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(depSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &DepStore{db: db}, nil
}

func (s *DepStore) Close() error {
	return s.db.Close()
}

// Save replaces the recorded dependencies of template.
func (s *DepStore) Save(template string, deps []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO templates (id, compiled_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET compiled_at = excluded.compiled_at
	`, template, time.Now().UTC()); err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert template: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM dependencies WHERE template = ?`, template); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear dependencies: %w", err)
	}

	for _, dep := range deps {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO dependencies (template, dependency) VALUES (?, ?)`,
			template, dep,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert dependency: %w", err)
		}
	}

	return tx.Commit()
}

// Forget removes template and its dependencies from the index.
func (s *DepStore) Forget(template string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM dependencies WHERE template = ?`, template); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM templates WHERE id = ?`, template)
	return err
}

// Dependencies returns the templates template was composed from, in sorted order.
func (s *DepStore) Dependencies(template string) ([]string, error) {
	return s.query(`SELECT dependency FROM dependencies WHERE template = ? ORDER BY dependency`, template)
}

// Dependents returns the templates composed from dep, in sorted order.
func (s *DepStore) Dependents(dep string) ([]string, error) {
	return s.query(`SELECT template FROM dependencies WHERE dependency = ? ORDER BY template`, dep)
}

// Templates returns every template with a recorded compilation, in sorted order.
func (s *DepStore) Templates() ([]string, error) {
	return s.query(`SELECT id FROM templates ORDER BY id`)
}

func (s *DepStore) query(q string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
