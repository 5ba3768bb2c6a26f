// Every cache namespace is persisted as a single SQLite database (cache.db) inside its own directory.
// Rows hold the framed entry bytes along with the eviction bookkeeping, so policies can be restored after a restart.

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
)

// DatabaseFileName is the name of the SQLite file inside a namespace directory.
const DatabaseFileName = "cache.db"

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS entries (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	key          TEXT    NOT NULL UNIQUE,
	value        BLOB    NOT NULL,
	store_time   INTEGER NOT NULL,
	access_time  INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
)`

// SQLiteTable is a KeyValueHolder backed by an embedded SQLite database.
type SQLiteTable struct { // Implements KeyValueHolder.
	dir string
	db  *sql.DB
	now func() time.Time
}

var _ KeyValueHolder = (*SQLiteTable)(nil)

// NewSQLiteTable opens (creating when needed) the database stored under `dir`.
func NewSQLiteTable(dir string) (*SQLiteTable, error) {
	// Make sure directory exists.
	if dirInfo, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat table directory %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create table directory %s: %w", dir, err)
		}
	} else if !dirInfo.IsDir() {
		return nil, fmt.Errorf("table path %s is not a directory", dir)
	}

	// The path is percent-encoded since SQLite decodes URI filenames.
	dbPath := (&url.URL{Path: filepath.ToSlash(filepath.Join(dir, DatabaseFileName))}).EscapedPath()
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database in %s: %w", dir, err)
	}
	// A single connection serializes writers inside the process; other processes wait on the busy timeout.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createEntriesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create entries table in %s: %w", dir, err)
	}
	return &SQLiteTable{dir: dir, db: db, now: time.Now}, nil
}

// Dir returns the namespace directory holding the database.
func (s *SQLiteTable) Dir() string {
	return s.dir
}

func (s *SQLiteTable) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteTable) Set(key string, value []byte) error {
	now := s.now().UnixNano()
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(`
INSERT INTO entries (key, value, store_time, access_time, access_count) VALUES (?, ?, ?, ?, 0)
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	store_time = excluded.store_time,
	access_time = excluded.access_time,
	access_count = 0`, key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to write entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteTable) Touch(key string) error {
	_, err := s.db.Exec(`UPDATE entries SET access_time = ?, access_count = access_count + 1 WHERE key = ?`,
		s.now().UnixNano(), key)
	if err != nil {
		return fmt.Errorf("failed to touch entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteTable) Delete(key string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted rows of %s: %w", key, err)
	}
	return affected > 0, nil
}

func (s *SQLiteTable) Entries() ([]EntryMeta, error) {
	rows, err := s.db.Query(`SELECT key, seq, store_time, access_time, access_count FROM entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metas []EntryMeta
	for rows.Next() {
		var (
			meta                 EntryMeta
			storedAt, accessedAt int64
		)
		if err := rows.Scan(&meta.Key, &meta.Seq, &storedAt, &accessedAt, &meta.Accesses); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		meta.StoredAt = time.Unix(0, storedAt)
		meta.AccessedAt = time.Unix(0, accessedAt)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return metas, nil
}

func (s *SQLiteTable) Len() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

func (s *SQLiteTable) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	return nil
}

func (s *SQLiteTable) Close() error {
	return s.db.Close()
}
