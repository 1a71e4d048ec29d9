package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
)

// DB is the SQLite file holding settings for any number of Miniservers.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the settings database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings schema: %w", err)
	}
	return &DB{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Namespace returns a Store scoped to one Miniserver, usually its serial
// number or host.
func (d *DB) Namespace(name string) *SQLite {
	return &SQLite{db: d.db, namespace: name}
}

// SQLite is a Store backed by one namespace of a DB.
type SQLite struct {
	db        *sql.DB
	namespace string
}

// Get returns the value for key. Read errors are logged and reported as a
// missing key.
func (s *SQLite) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM settings
		WHERE namespace = ? AND key = ?
	`, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		logging.Warn("Failed to read setting",
			zap.String("namespace", s.namespace),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false
	}
	return value, true
}

func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.namespace, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE namespace = ? AND key = ?`, s.namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
