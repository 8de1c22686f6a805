package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Store wraps a SQLite database holding sessions and messages.
// Thread-safe for concurrent use from multiple goroutines within one process.
// WAL mode + busy timeout keep concurrent readers live while capturing.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for read-only aggregate queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			project_path TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			created_at   INTEGER NOT NULL,
			ended_at     INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("store: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			thinking        TEXT NOT NULL DEFAULT '',
			thinking_tokens INTEGER NOT NULL DEFAULT 0,
			model           TEXT NOT NULL DEFAULT '',
			input_tokens    INTEGER NOT NULL DEFAULT 0,
			output_tokens   INTEGER NOT NULL DEFAULT 0,
			tool_calls      TEXT NOT NULL DEFAULT '[]',
			created_at      INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create messages: %w", err)
	}

	if _, err := tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, id)",
	); err != nil {
		return fmt.Errorf("store: create message index: %w", err)
	}
	if _, err := tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)",
	); err != nil {
		return fmt.Errorf("store: create created index: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)",
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Sessions ---

// CreateSession inserts a session, generating id and created_at when unset.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if !sess.EndedAt.IsZero() && sess.EndedAt.Before(sess.CreatedAt) {
		return &ValidationError{Field: "ended_at", Reason: "before created_at"}
	}

	meta := "{}"
	if len(sess.Metadata) > 0 {
		b, err := json.Marshal(sess.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshal metadata: %w", err)
		}
		meta = string(b)
	}

	var endedAt int64
	if !sess.EndedAt.IsZero() {
		endedAt = sess.EndedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, project_path, metadata, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.ProjectPath, meta, sess.CreatedAt.UnixMilli(), endedAt)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or a NotFoundError.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, project_path, metadata, created_at, ended_at
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	return sess, err
}

// SessionExists reports whether a session id is known.
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: session exists: %w", err)
	}
	return true, nil
}

// EndSession stamps the session's end time. The end time must not precede
// the session's creation time.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if endedAt.Before(sess.CreatedAt) {
		return &ValidationError{Field: "ended_at", Reason: "before created_at"}
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ? WHERE id = ?", endedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and all its messages in one transaction.
// Returns the ids of the deleted messages so the caller can purge the
// search index.
func (s *Store) DeleteSession(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM messages WHERE session_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("store: list session messages: %w", err)
	}
	var messageIDs []string
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan message id: %w", err)
		}
		messageIDs = append(messageIDs, mid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list session messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("store: delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: delete session: %w", err)
	}
	if affected == 0 {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit delete: %w", err)
	}
	return messageIDs, nil
}

// ListSessions returns sessions newest-first. A non-empty nameFilter narrows
// the list by fuzzy-matching session names, best matches first.
func (s *Store) ListSessions(ctx context.Context, nameFilter string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, project_path, metadata, created_at, ended_at
		FROM sessions ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}

	if nameFilter == "" {
		return sessions, nil
	}

	names := make([]string, len(sessions))
	for i, sess := range sessions {
		names[i] = sess.Name
	}
	matches := fuzzy.Find(nameFilter, names)
	filtered := make([]*Session, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, sessions[m.Index])
	}
	return filtered, nil
}

// --- Messages ---

// InsertMessage stores one captured turn. The message must already be in
// canonical form (CaptureInput.Normalize).
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	if !ValidRole(msg.Role) {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", msg.Role)}
	}
	if msg.ThinkingTokens < 0 || msg.InputTokens < 0 || msg.OutputTokens < 0 {
		return &ValidationError{Field: "tokens", Reason: "token counts must be non-negative"}
	}

	ok, err := s.SessionExists(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "session", ID: msg.SessionID}
	}

	toolCalls := "[]"
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls: %w", err)
		}
		toolCalls = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, session_id, role, content, thinking, thinking_tokens,
			model, input_tokens, output_tokens, tool_calls, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Thinking, msg.ThinkingTokens,
		msg.Model, msg.InputTokens, msg.OutputTokens, toolCalls, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id, or a NotFoundError.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, thinking, thinking_tokens,
			model, input_tokens, output_tokens, tool_calls, created_at
		FROM messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "message", ID: id}
	}
	return msg, err
}

// ListBySession returns a page of a session's messages oldest-first, along
// with the total message count for that session.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Message, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, &ValidationError{Field: "pagination", Reason: "limit and offset must be non-negative"}
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count messages: %w", err)
	}

	// SQLite treats LIMIT -1 as unbounded; limit 0 means "no limit" here.
	lim := limit
	if lim == 0 {
		lim = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, thinking, thinking_tokens,
			model, input_tokens, output_tokens, tool_calls, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, sessionID, lim, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, total, rows.Err()
}

// ForEachMessage streams every message oldest-first through fn. Used for
// index rebuild at startup and for aggregations that must see tool calls.
func (s *Store) ForEachMessage(ctx context.Context, fn func(*Message) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, thinking, thinking_tokens,
			model, input_tokens, output_tokens, tool_calls, created_at
		FROM messages ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("store: scan messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var meta string
	var createdMilli, endedMilli int64
	err := row.Scan(&sess.ID, &sess.Name, &sess.ProjectPath, &meta, &createdMilli, &endedMilli)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	sess.CreatedAt = time.UnixMilli(createdMilli).UTC()
	if endedMilli > 0 {
		sess.EndedAt = time.UnixMilli(endedMilli).UTC()
	}
	return sess, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	msg := &Message{}
	var toolCalls string
	var createdMilli int64
	err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Thinking, &msg.ThinkingTokens,
		&msg.Model, &msg.InputTokens, &msg.OutputTokens, &toolCalls, &createdMilli,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	if toolCalls != "" && toolCalls != "[]" {
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
		}
	}
	msg.CreatedAt = time.UnixMilli(createdMilli).UTC()
	return msg, nil
}
