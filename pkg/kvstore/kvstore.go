// Package kvstore provides the small key-value record store backing the PIN
// credential and capability tokens. One sqlite database, one table; values
// are opaque blobs owned by the caller.
package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileMode is the permission mask for the database file.
const FileMode = 0600

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("kvstore: record not found")

// Store is a sqlite-backed key-value store. Safe for concurrent use; writes
// are serialized through a single connection.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the store at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("kvstore: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("kvstore: failed to open database: %w", err)
	}

	// Single-connection mode avoids "database is locked" errors for the
	// strictly local, low-concurrency access pattern of this store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: failed to create table: %w", err)
	}

	if err := os.Chmod(path, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: failed to set database permissions: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Get returns the value stored under name, or ErrNotFound.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	err := s.db.QueryRow("SELECT value FROM records WHERE name = ?", name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kvstore: failed to read record: %w", err)
	}
	return value, nil
}

// Put stores value under name, replacing any existing record.
func (s *Store) Put(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO records (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("kvstore: failed to write record: %w", err)
	}
	return nil
}

// Delete removes the record stored under name. Deleting a missing record is
// not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM records WHERE name = ?", name); err != nil {
		return fmt.Errorf("kvstore: failed to delete record: %w", err)
	}
	return nil
}

// ListPrefix returns the names of all records whose name starts with prefix,
// in lexical order.
func (s *Store) ListPrefix(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT name FROM records WHERE name LIKE ? ESCAPE '\' ORDER BY name`, likePattern(prefix))
	if err != nil {
		return nil, fmt.Errorf("kvstore: failed to query records: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("kvstore: failed to scan row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: error iterating rows: %w", err)
	}
	return names, nil
}

// DeletePrefix removes every record whose name starts with prefix and returns
// the number of records removed. The whole sweep is one statement under one
// lock acquisition, so a concurrent Put under the prefix cannot slip between
// the listing and the deletes.
func (s *Store) DeletePrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM records WHERE name LIKE ? ESCAPE '\'`, likePattern(prefix))
	if err != nil {
		return 0, fmt.Errorf("kvstore: failed to delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kvstore: failed to count deleted records: %w", err)
	}
	return int(n), nil
}

// likePattern escapes LIKE metacharacters in prefix and appends the wildcard.
func likePattern(prefix string) string {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, `\`, `\\`), "%", `\%`)
	return strings.ReplaceAll(pattern, "_", `\_`) + "%"
}
