package routes

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"ngweave/internal/logging"
)

// Store persists the accumulated route map between sessions so a restarted
// watch starts from the routes it already knew.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenStore opens (creating if needed) the SQLite route cache at path.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.CacheDebug("route store opened at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	routesTable := `
	CREATE TABLE IF NOT EXISTS lazy_routes (
		module TEXT NOT NULL,
		export TEXT NOT NULL,
		variant INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL DEFAULT '',
		resolved INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (module, export, variant)
	);
	`
	if _, err := s.db.Exec(routesTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Load returns the stored route map.
func (s *Store) Load(ctx context.Context) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT module, export, variant, path, resolved FROM lazy_routes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	out := make(Map)
	for rows.Next() {
		var (
			k        Key
			variant  int
			e        Entry
			resolved int
		)
		if err := rows.Scan(&k.Module, &k.Export, &variant, &e.Path, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		k.Variant = Variant(variant)
		e.Resolved = resolved != 0
		out[k] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read routes: %w", err)
	}
	return out, nil
}

// Save upserts every entry of m. Rows absent from m are kept, matching the
// accumulator's no-pruning rule.
func (s *Store) Save(ctx context.Context, m Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lazy_routes (module, export, variant, path, resolved, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(module, export, variant) DO UPDATE SET
			path = excluded.path,
			resolved = excluded.resolved,
			updated_at = CURRENT_TIMESTAMP
		WHERE excluded.resolved = 1 OR lazy_routes.resolved = 0`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, k := range m.Keys() {
		e := m[k]
		resolved := 0
		if e.Resolved {
			resolved = 1
		}
		if _, err := stmt.ExecContext(ctx, k.Module, k.Export, int(k.Variant), e.Path, resolved); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save route %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit routes: %w", err)
	}
	logging.CacheDebug("saved %d routes to %s", len(m), s.dbPath)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
