// Package settings persists flat boolean preferences in SQLite.
package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Keys read by the command line tool.
const (
	KeyVerifyWrites = "verify_writes"
	KeyUpdateIndex  = "update_index"
	KeyAnimate      = "animate"
)

// Store is an open settings database.
type Store struct {
	db *sql.DB
}

// Open opens the settings database at path, creating it and its directory
// when needed. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating settings directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening settings database: %w", err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bool returns the value of key, or def when it was never set.
func (s *Store) Bool(key string, def bool) (bool, error) {
	var v int
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v != 0, nil
}

// Set stores key.
func (s *Store) Set(key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, v)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key; reading it again yields the default.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Store) All() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			key string
			v   int
		)
		if err := rows.Scan(&key, &v); err != nil {
			return nil, err
		}
		out[key] = v != 0
	}
	return out, rows.Err()
}

// ImportJSON stores every key of a flat JSON object of booleans in one
// transaction.
func (s *Store) ImportJSON(data []byte) (int, error) {
	var values map[string]bool
	if err := json.Unmarshal(data, &values); err != nil {
		return 0, fmt.Errorf("decoding settings json: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for key, value := range values {
		v := 0
		if value {
			v = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`, key, v); err != nil {
			return 0, fmt.Errorf("importing setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(values), nil
}

// ExportJSON renders all settings as an indented JSON object.
func (s *Store) ExportJSON() ([]byte, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(all, "", "    ")
}
