// Package securestore is the on-device key-value store backing keyword
// configuration, plus the trigger history table. It is a single SQLite
// file kept private to the current user.
package securestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for missing keys
var ErrNotFound = errors.New("key not found")

const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    rev INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS triggers (
    id TEXT PRIMARY KEY,
    app_id TEXT NOT NULL,
    keyword TEXT,
    mode TEXT NOT NULL,
    outcome TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    triggered_at INTEGER NOT NULL,
    completed_at INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_triggers_app_time ON triggers(app_id, triggered_at DESC);
CREATE INDEX IF NOT EXISTS idx_triggers_time ON triggers(triggered_at DESC);
`

// Store is a SQLite-backed key-value store
type Store struct {
	db     *sql.DB
	dbPath string

	stmtGet           *sql.Stmt
	stmtRev           *sql.Stmt
	stmtDelete        *sql.Stmt
	stmtUpsertTrigger *sql.Stmt
}

// Open creates or opens the store under dataDir
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "secure.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := migrateKVRevision(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

// migrateKVRevision adds the rev column to kv tables created before it existed
func migrateKVRevision(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('kv') WHERE name = 'rev'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE kv ADD COLUMN rev INTEGER NOT NULL DEFAULT 0`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtGet, err = s.db.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.stmtRev, err = s.db.Prepare(`SELECT rev FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.stmtDelete, err = s.db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.stmtUpsertTrigger, err = s.db.Prepare(`
		INSERT INTO triggers (id, app_id, keyword, mode, outcome, error, triggered_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			outcome = excluded.outcome,
			error = excluded.error,
			completed_at = excluded.completed_at
	`)
	return err
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// Get returns the value stored under key
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.stmtGet.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Revision returns the write stamp of key, 0 when the key is missing.
// Every write gives the key a stamp it never had before, so comparing
// stamps tells whether any process changed the value since.
func (s *Store) Revision(key string) (int64, error) {
	var rev int64
	err := s.stmtRev.QueryRow(key).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("revision %s: %w", key, err)
	}
	return rev, nil
}

// Update runs a read-modify-write of key in one immediate transaction, so
// writers in other processes are serialized with it. fn gets the current
// value (nil when missing) and returns the new one; a nil result leaves
// the key untouched. fn must not call back into the Store. The returned
// stamp is the key's revision after the transaction.
func (s *Store) Update(key string, fn func(cur []byte) ([]byte, error)) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	defer tx.Rollback()

	var (
		cur []byte
		rev int64
	)
	err = tx.QueryRow(`SELECT value, rev FROM kv WHERE key = ?`, key).Scan(&cur, &rev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}

	next, err := fn(cur)
	if err != nil {
		return 0, err
	}
	if next == nil {
		return rev, nil
	}

	now := time.Now()
	_, err = tx.Exec(`
		INSERT INTO kv (key, value, updated_at, rev) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			rev = MAX(excluded.rev, kv.rev + 1)
	`, key, next, now.UnixMilli(), now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	if err := tx.QueryRow(`SELECT rev FROM kv WHERE key = ?`, key).Scan(&rev); err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.stmtDelete.Exec(key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases prepared statements and the database handle
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtGet, s.stmtRev, s.stmtDelete, s.stmtUpsertTrigger} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
