// Package store persists received messages and their media in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// ErrNotFound is returned by lookups of unknown message ids
var ErrNotFound = errors.New("not found")

// SQLite stores messages and media keyed by serialized message id
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// writes from concurrent event handlers go through one connection
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		from_id TEXT,
		to_id TEXT,
		author TEXT,
		body TEXT,
		type TEXT,
		from_me INTEGER NOT NULL DEFAULT 0,
		has_media INTEGER NOT NULL DEFAULT 0,
		ack INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER,
		raw TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);

	CREATE TABLE IF NOT EXISTS media (
		message_id TEXT PRIMARY KEY REFERENCES messages(message_id),
		session_id TEXT NOT NULL,
		mimetype TEXT NOT NULL,
		filename TEXT,
		filesize INTEGER,
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func messageKey(msg client.Message) string {
	if msg.ID.Serialized != "" {
		return msg.ID.Serialized
	}
	return msg.ID.ID
}

// SaveMessage upserts msg
func (s *SQLite) SaveMessage(ctx context.Context, sessionID string, msg client.Message) error {
	key := messageKey(msg)
	if key == "" {
		return errors.New("message has no id")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, session_id, chat_id, from_id, to_id, author, body, type, from_me, has_media, ack, timestamp, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			body = excluded.body,
			type = excluded.type,
			has_media = excluded.has_media,
			ack = excluded.ack,
			raw = excluded.raw,
			updated_at = CURRENT_TIMESTAMP`,
		key, sessionID, msg.Chat(), msg.From, msg.To, msg.Author, msg.Body, msg.Type,
		msg.ID.FromMe, msg.HasMedia, msg.Ack, msg.Timestamp, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", key, err)
	}
	return nil
}

// SaveMedia upserts the media of msg, saving msg too
func (s *SQLite) SaveMedia(ctx context.Context, sessionID string, msg client.Message, media client.Media) error {
	if err := s.SaveMessage(ctx, sessionID, msg); err != nil {
		return err
	}

	key := messageKey(msg)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media (message_id, session_id, mimetype, filename, filesize, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			mimetype = excluded.mimetype,
			filename = excluded.filename,
			filesize = excluded.filesize,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		key, sessionID, media.Mimetype, media.Filename, media.Filesize, media.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to save media %s: %w", key, err)
	}
	return nil
}

// StoredMessage is a persisted message row
type StoredMessage struct {
	SessionID string
	Message   client.Message
}

// Message loads a message by its serialized id
func (s *SQLite) Message(ctx context.Context, messageID string) (*StoredMessage, error) {
	var sm StoredMessage
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, raw FROM messages WHERE message_id = ?`, messageID,
	).Scan(&sm.SessionID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &sm.Message); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &sm, nil
}

// Media loads the media of a message
func (s *SQLite) Media(ctx context.Context, messageID string) (*client.Media, error) {
	var m client.Media
	var filename sql.NullString
	var filesize sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT mimetype, filename, filesize, data FROM media WHERE message_id = ?`, messageID,
	).Scan(&m.Mimetype, &filename, &filesize, &m.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load media: %w", err)
	}
	m.Filename = filename.String
	m.Filesize = filesize.Int64
	return &m, nil
}

// CountMessages returns how many messages a session has stored
func (s *SQLite) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
