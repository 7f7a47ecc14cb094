package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps concurrent readers from blocking the writer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_seen_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		tone_label TEXT NOT NULL,
		tone_intensity INTEGER NOT NULL,
		tone_sentiment REAL,
		trigger_words TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created
		ON messages(session_id, created_at, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateSession persists a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session chat.Session) (chat.Session, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, code, status, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Code, string(session.Status), session.CreatedBy, session.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: sessions.code") {
			return chat.Session{}, ErrCodeTaken
		}
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, status, created_by, created_at FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// GetSessionByCode retrieves a session by its share code.
func (s *SQLiteStore) GetSessionByCode(ctx context.Context, code string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, status, created_by, created_at FROM sessions WHERE code = ?`, code)
	return scanSession(row)
}

func scanSession(row *sql.Row) (chat.Session, error) {
	var session chat.Session
	var status string
	var createdAt int64

	err := row.Scan(&session.ID, &session.Code, &status, &session.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("scan session row: %w", err)
	}

	session.Status = chat.SessionStatus(status)
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	return session, nil
}

// UpdateSessionStatus moves a session through its lifecycle.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status chat.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ?`, string(status), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpsertParticipant creates or replaces the (session, user) row.
func (s *SQLiteStore) UpsertParticipant(ctx context.Context, participant chat.Participant) error {
	if _, err := s.GetSession(ctx, participant.SessionID); err != nil {
		return err
	}

	active := 0
	if participant.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (session_id, user_id, nickname, is_active, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, user_id) DO UPDATE SET
			nickname = excluded.nickname,
			is_active = excluded.is_active,
			last_seen_at = excluded.last_seen_at`,
		participant.SessionID, participant.UserID, participant.Nickname, active, participant.LastSeenAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// ListActiveParticipants returns every active row for a session.
func (s *SQLiteStore) ListActiveParticipants(ctx context.Context, sessionID string) ([]chat.Participant, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, nickname, is_active, last_seen_at
		FROM participants WHERE session_id = ? AND is_active = 1
		ORDER BY user_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]chat.Participant, 0, 2)
	for rows.Next() {
		var p chat.Participant
		var active int
		var lastSeen int64
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Nickname, &active, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		p.IsActive = active == 1
		p.LastSeenAt = time.Unix(0, lastSeen).UTC()
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// DeactivateParticipant flips the active flag; the row stays.
func (s *SQLiteStore) DeactivateParticipant(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET is_active = 0, last_seen_at = ? WHERE session_id = ? AND user_id = ?`,
		time.Now().UTC().UnixNano(), sessionID, userID)
	if err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	if affected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// InsertMessage assigns the id and creation timestamp, then persists.
func (s *SQLiteStore) InsertMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if _, err := s.GetSession(ctx, message.SessionID); err != nil {
		return chat.Message{}, err
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	var triggerWords any
	if len(message.Tone.TriggerWords) > 0 {
		encoded, err := json.Marshal(message.Tone.TriggerWords)
		if err != nil {
			return chat.Message{}, fmt.Errorf("encode trigger words: %w", err)
		}
		triggerWords = string(encoded)
	}

	var sentiment any
	if message.Tone.Sentiment != nil {
		sentiment = *message.Tone.Sentiment
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, author_id, body, tone_label, tone_intensity, tone_sentiment, trigger_words, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.AuthorID, message.Body,
		message.Tone.Label, message.Tone.Intensity, sentiment, triggerWords,
		message.CreatedAt.UnixNano(),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// ListMessages returns the transcript in (creation time, id) order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, author_id, body, tone_label, tone_intensity, tone_sentiment, trigger_words, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 32)
	for rows.Next() {
		var msg chat.Message
		var sentiment sql.NullFloat64
		var triggerWords sql.NullString
		var createdAt int64

		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.AuthorID, &msg.Body,
			&msg.Tone.Label, &msg.Tone.Intensity, &sentiment, &triggerWords, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		if sentiment.Valid {
			val := sentiment.Float64
			msg.Tone.Sentiment = &val
		}
		if triggerWords.Valid && triggerWords.String != "" {
			if err := json.Unmarshal([]byte(triggerWords.String), &msg.Tone.TriggerWords); err != nil {
				return nil, fmt.Errorf("decode trigger words: %w", err)
			}
		}
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
