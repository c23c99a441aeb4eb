// Package sqlite provides a transcript.Store backed by an embedded SQLite
// database. WAL journal mode allows concurrent readers while a session
// records; all writes go through a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentweave/transcript"
)

// Store persists exchanges in a local SQLite database file. Timestamps are
// stored as unix milliseconds; the schema migrates forward on open.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at path, creating the file and parent
// directory if needed, and migrates the schema.
func NewStore(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("sqlite: missing database path")
	}
	p = filepath.Clean(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// SaveExchange records one completed exchange.
func (s *Store) SaveExchange(ctx context.Context, ex transcript.Exchange) error {
	if strings.TrimSpace(ex.SessionID) == "" {
		return errors.New("sqlite: exchange is missing a session id")
	}

	createdAt := ex.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchanges(session_id, agent, prompt, response, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, ex.SessionID, ex.Agent, ex.Prompt, ex.Response, createdAt.UnixMilli())
	return err
}

// ListExchanges returns the session's exchanges in recording order.
func (s *Store) ListExchanges(ctx context.Context, sessionID string) ([]transcript.Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, agent, prompt, response, created_at_unix_ms
FROM exchanges
WHERE session_id = ?
ORDER BY id
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Exchange
	for rows.Next() {
		var ex transcript.Exchange
		var createdMs int64
		if err := rows.Scan(&ex.SessionID, &ex.Agent, &ex.Prompt, &ex.Response, &createdMs); err != nil {
			return nil, err
		}
		ex.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// SearchExchanges returns substring matches across all sessions in insert
// order. instr keeps the match case sensitive, mirroring the in-memory
// store.
func (s *Store) SearchExchanges(ctx context.Context, query string, limit int) ([]transcript.Exchange, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, agent, prompt, response, created_at_unix_ms
FROM exchanges
WHERE ? = '' OR instr(prompt, ?) > 0 OR instr(response, ?) > 0
ORDER BY id
LIMIT ?
`, query, query, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Exchange
	for rows.Next() {
		var ex transcript.Exchange
		var createdMs int64
		if err := rows.Scan(&ex.SessionID, &ex.Agent, &ex.Prompt, &ex.Response, &createdMs); err != nil {
			return nil, err
		}
		ex.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("sqlite: pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("sqlite: pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("sqlite: pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS exchanges (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  agent TEXT NOT NULL DEFAULT '',
  prompt TEXT NOT NULL DEFAULT '',
  response TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, id);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
