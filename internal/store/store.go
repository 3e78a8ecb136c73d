package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ModelChat/internal/session"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Store persists sessions, messages and model configs in SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked"
	db.SetMaxOpenConns(1)

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME,
		last_used DATETIME
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);`

	createMessagesIndex := `
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`

	createModelConfigsTable := `
	CREATE TABLE IF NOT EXISTS model_configs (
		model_name TEXT PRIMARY KEY,
		system_prompt TEXT NOT NULL,
		updated_at DATETIME
	);`

	for _, stmt := range []string{createSessionsTable, createMessagesTable, createMessagesIndex, createModelConfigsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session for model named after its creation time
func (s *Store) CreateSession(ctx context.Context, model string, at time.Time) (session.Session, error) {
	at = at.UTC()
	sess := session.Session{
		ID:        uuid.NewString(),
		Model:     model,
		Name:      session.DefaultName(at),
		CreatedAt: at,
		LastUsed:  at,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, model, name, created_at, last_used) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.Model, sess.Name, sess.CreatedAt, sess.LastUsed,
	)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession loads a session by id
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, model, name, created_at, last_used FROM sessions WHERE id = ?", id)
	return scanSession(row)
}

// ListSessions returns every session, most recently used first
func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, model, name, created_at, last_used FROM sessions ORDER BY last_used DESC, created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently used session of model
func (s *Store) LatestSession(ctx context.Context, model string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model, name, created_at, last_used FROM sessions
		WHERE model = ? ORDER BY last_used DESC, created_at DESC LIMIT 1`, model)
	return scanSession(row)
}

// TouchSession records that a session was used at t
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "UPDATE sessions SET last_used = ? WHERE id = ?", at.UTC(), id)
}

// RenameSession sets a session's name
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	return s.execOne(ctx, "UPDATE sessions SET name = ? WHERE id = ?", name, id)
}

// DeleteSession removes a session and all its messages
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddMessage appends a message to a session
func (s *Store) AddMessage(ctx context.Context, sessionID string, sender session.Sender, content string, at time.Time) (session.Message, error) {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, sender, content, timestamp) VALUES (?, ?, ?, ?)",
		sessionID, string(sender), content, at,
	)
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to read message id: %w", err)
	}
	return session.Message{
		ID:        id,
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		Timestamp: at,
	}, nil
}

// GetMessage loads a message by id
func (s *Store) GetMessage(ctx context.Context, id int64) (session.Message, error) {
	var msg session.Message
	var sender string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, sender, content, timestamp FROM messages WHERE id = ?", id).
		Scan(&msg.ID, &msg.SessionID, &sender, &msg.Content, &msg.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Message{}, ErrNotFound
	}
	if err != nil {
		return session.Message{}, fmt.Errorf("failed to load message: %w", err)
	}
	msg.Sender = session.Sender(sender)
	return msg, nil
}

// History returns the messages of a session in the order they were written
func (s *Store) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, sender, content, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		var sender string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = session.Sender(sender)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

// TruncateFrom deletes the message with id fromID and every later message of
// the session. It returns the number of deleted messages.
func (s *Store) TruncateFrom(ctx context.Context, sessionID string, fromID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE session_id = ? AND id >= ?", sessionID, fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return n, nil
}

// SaveModelConfig stores cfg and marks it as the most recent one
func (s *Store) SaveModelConfig(ctx context.Context, cfg session.ModelConfig, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_configs (model_name, system_prompt, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(model_name) DO UPDATE SET system_prompt = excluded.system_prompt, updated_at = excluded.updated_at`,
		cfg.ModelName, cfg.SystemPrompt, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save model config: %w", err)
	}
	return nil
}

// LatestModelConfig returns the most recently saved model config
func (s *Store) LatestModelConfig(ctx context.Context) (session.ModelConfig, error) {
	var cfg session.ModelConfig
	err := s.db.QueryRowContext(ctx,
		"SELECT model_name, system_prompt FROM model_configs ORDER BY updated_at DESC LIMIT 1").
		Scan(&cfg.ModelName, &cfg.SystemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ModelConfig{}, ErrNotFound
	}
	if err != nil {
		return session.ModelConfig{}, fmt.Errorf("failed to load model config: %w", err)
	}
	return cfg, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var sess session.Session
	err := row.Scan(&sess.ID, &sess.Model, &sess.Name, &sess.CreatedAt, &sess.LastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	return sess, nil
}
