package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps records in a single SQLite file.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between goroutines of the same process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	s := &SQLiteStore{sqlStore{db: db, q: queries{
		save: `INSERT INTO records (uuid, flow, body, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(uuid) DO UPDATE SET flow = excluded.flow, body = excluded.body, updated_at = CURRENT_TIMESTAMP`,
		load:   `SELECT body FROM records WHERE uuid = ?`,
		list:   `SELECT body FROM records ORDER BY flow, uuid`,
		delete: `DELETE FROM records WHERE uuid = ?`,
	}}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS records (
		uuid TEXT PRIMARY KEY,
		flow TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_flow ON records(flow);
	`)
	return err
}
