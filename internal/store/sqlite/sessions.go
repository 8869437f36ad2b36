// Package sqlite implements store.SessionStore on an embedded SQLite
// database (modernc.org/sqlite, no cgo). This is the default backend,
// matching the original deployment's sqlite:///./conversations.db.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
	session_id       TEXT PRIMARY KEY,
	conversation_sid TEXT NOT NULL,
	service_sid      TEXT NOT NULL,
	participant_sid  TEXT,
	state            TEXT NOT NULL DEFAULT 'active',
	context          TEXT,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	last_activity_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_conversation ON conversation_sessions(conversation_sid);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON conversation_sessions(last_activity_at);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	author     TEXT,
	metadata   TEXT,
	timestamp  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`

// Store is a SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent webhook deliveries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*conversation.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, conversation_sid, service_sid, COALESCE(participant_sid, ''),
		       state, COALESCE(context, '{}'), created_at, updated_at, last_activity_at
		FROM conversation_sessions WHERE session_id = ?`, sessionID)

	var sess conversation.Session
	var state, ctxJSON string
	err := row.Scan(&sess.ID, &sess.ConversationSID, &sess.ServiceSID, &sess.ParticipantSID,
		&state, &ctxJSON, &sess.CreatedAt, &sess.UpdatedAt, &sess.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.State = conversation.State(state)
	sess.Context = conversation.Context{}
	if err := json.Unmarshal([]byte(ctxJSON), &sess.Context); err != nil {
		sess.Context = conversation.Context{}
	}

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return &sess, nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, COALESCE(author, ''), COALESCE(metadata, ''), timestamp
		FROM messages WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var role, metaJSON string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Author, &metaJSON, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) Put(ctx context.Context, sess *conversation.Session) error {
	ctxJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions
			(session_id, conversation_sid, service_sid, participant_sid, state, context,
			 created_at, updated_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			conversation_sid = excluded.conversation_sid,
			service_sid      = excluded.service_sid,
			participant_sid  = excluded.participant_sid,
			state            = excluded.state,
			context          = excluded.context,
			updated_at       = excluded.updated_at,
			last_activity_at = excluded.last_activity_at`,
		sess.ID, sess.ConversationSID, sess.ServiceSID, nullable(sess.ParticipantSID),
		string(sess.State), string(ctxJSON), sess.CreatedAt, sess.UpdatedAt, sess.LastActivityAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg conversation.Message) error {
	var metaJSON []byte
	if msg.Metadata != nil {
		metaJSON, _ = json.Marshal(msg.Metadata)
	}

	// One transaction for check+insert+touch: a concurrent DeleteExpired must
	// never land between the existence check and the insert, or the message
	// row would outlive its session.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	// INSERT OR IGNORE makes retried deliveries a no-op on the same message ID.
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, session_id, role, content, author, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Content, nullable(msg.Author),
		string(metaJSON), msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_sessions SET updated_at = ?, last_activity_at = ?
		WHERE session_id = ?`, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM conversation_sessions WHERE last_activity_at < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE last_activity_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_sessions`).Scan(&st.TotalSessions); err != nil {
		return st, fmt.Errorf("count sessions: %w", err)
	}
	activeSince := time.Now().UTC().Add(-time.Hour)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_sessions WHERE last_activity_at > ?`,
		activeSince).Scan(&st.ActiveSessions); err != nil {
		return st, fmt.Errorf("count active sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages); err != nil {
		return st, fmt.Errorf("count messages: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error { return s.db.Close() }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
