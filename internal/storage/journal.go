// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatwire/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a session has no recorded messages.
	ErrNotFound = errors.New("transcript session not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("transcript journal closed")
)

// Schema is the transcript table layout.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	content    TEXT NOT NULL,
	sql_query  TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// =============================================================================
// TYPES
// =============================================================================

// Entry is one recorded message.
type Entry struct {
	Seq       int64
	SessionID string
	Message   model.Message
}

// SessionSummary describes one session in the journal.
type SessionSummary struct {
	ID        string
	Mode      model.Mode
	Messages  int
	FirstSeen time.Time
	LastSeen  time.Time
	Preview   string // first user message
}

// Filter narrows List results.
type Filter struct {
	// SessionID restricts results to one session. Empty means all sessions.
	SessionID string

	// Limit keeps only the most recent entries. Zero means no limit.
	Limit int
}

// =============================================================================
// JOURNAL
// =============================================================================

// Journal is an append-only SQLite message log.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("transcript path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create transcript directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transcript database")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to set %s", pragma)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create transcript schema")
	}

	return &Journal{db: db}, nil
}

// Close closes the database. Further calls return ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func (j *Journal) conn() (*sql.DB, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	return j.db, nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Record appends msg under sessionID. Recording the same message id twice
// keeps the first copy.
func (j *Journal) Record(ctx context.Context, sessionID string, msg model.Message) error {
	if sessionID == "" {
		return errors.New("transcript: empty session id")
	}
	if msg.ID == "" {
		return errors.New("transcript: message has no id")
	}
	db, err := j.conn()
	if err != nil {
		return err
	}

	var query sql.NullString
	if msg.SQLQuery != "" {
		query = sql.NullString{String: msg.SQLQuery, Valid: true}
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, session_id, role, mode, content, sql_query, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Role.String(), msg.Mode.String(), msg.Content, query, msg.Timestamp.UTC().UnixNano(),
	)
	return errors.Wrap(err, "failed to record message")
}

// Delete removes every message of sessionID and returns how many were
// removed.
func (j *Journal) Delete(ctx context.Context, sessionID string) (int64, error) {
	db, err := j.conn()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.Wrap(ErrNotFound, sessionID)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit delete")
	}
	return n, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// List returns recorded entries in recording order.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT seq, id, session_id, role, mode, content, sql_query, created_at FROM messages`
	var args []any
	if f.SessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, f.SessionID)
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transcript")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			role      string
			mode      string
			sqlQuery  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.Seq, &e.Message.ID, &e.SessionID, &role, &mode, &e.Message.Content, &sqlQuery, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan transcript row")
		}
		e.Message.Role = model.Role(role)
		e.Message.Mode = model.Mode(mode)
		e.Message.Timestamp = time.Unix(0, createdAt).UTC()
		e.Message.SQLQuery = sqlQuery.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come newest first so LIMIT keeps the latest ones.
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

// Sessions summarizes every recorded session, most recently active first.
func (j *Journal) Sessions(ctx context.Context) ([]SessionSummary, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.session_id,
		       (SELECT mode FROM messages f WHERE f.session_id = m.session_id ORDER BY seq LIMIT 1),
		       COUNT(*), MIN(m.created_at), MAX(m.created_at),
		       COALESCE((SELECT content FROM messages u
		                 WHERE u.session_id = m.session_id AND u.role = 'user'
		                 ORDER BY seq LIMIT 1), '')
		FROM messages m
		GROUP BY m.session_id
		ORDER BY MAX(m.seq) DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s           SessionSummary
			mode        string
			first, last int64
		)
		if err := rows.Scan(&s.ID, &mode, &s.Messages, &first, &last, &s.Preview); err != nil {
			return nil, errors.Wrap(err, "failed to scan session row")
		}
		s.Mode = model.Mode(mode)
		s.FirstSeen = time.Unix(0, first).UTC()
		s.LastSeen = time.Unix(0, last).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
