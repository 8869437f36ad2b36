// Package pg implements store.SessionStore backed by Postgres, for
// multi-instance deployments where webhook traffic is load balanced.
// Schema is managed by golang-migrate (see migrations/ and the migrate
// command).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store"
)

// Store is a Postgres-backed session store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using the pgx stdlib driver and verifies the
// connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*conversation.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, conversation_sid, service_sid, COALESCE(participant_sid, ''),
		       state, COALESCE(context, '{}'), created_at, updated_at, last_activity_at
		FROM conversation_sessions WHERE session_id = $1`, sessionID)

	var sess conversation.Session
	var state string
	var ctxJSON []byte
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
	_ = json.Unmarshal(ctxJSON, &sess.Context)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, COALESCE(author, ''), COALESCE(metadata, 'null'), timestamp
		FROM messages WHERE session_id = $1 ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	sess.Messages = []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var role string
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Author, &metaJSON, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		_ = json.Unmarshal(metaJSON, &m.Metadata)
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
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
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			conversation_sid = EXCLUDED.conversation_sid,
			service_sid      = EXCLUDED.service_sid,
			participant_sid  = EXCLUDED.participant_sid,
			state            = EXCLUDED.state,
			context          = EXCLUDED.context,
			updated_at       = EXCLUDED.updated_at,
			last_activity_at = EXCLUDED.last_activity_at`,
		sess.ID, sess.ConversationSID, sess.ServiceSID, sess.ParticipantSID,
		string(sess.State), ctxJSON, sess.CreatedAt, sess.UpdatedAt, sess.LastActivityAt)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_sessions WHERE session_id = $1 FOR UPDATE`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	// ON CONFLICT DO NOTHING makes retried deliveries a no-op on the same ID.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, author, metadata, timestamp)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, sessionID, string(msg.Role), msg.Content, msg.Author, metaJSON, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_sessions SET updated_at = $1, last_activity_at = $1
		WHERE session_id = $2`, now, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM conversation_sessions WHERE last_activity_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	activeSince := time.Now().UTC().Add(-time.Hour)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversation_sessions),
			(SELECT COUNT(*) FROM conversation_sessions WHERE last_activity_at > $1),
			(SELECT COUNT(*) FROM messages)`,
		activeSince).Scan(&st.TotalSessions, &st.ActiveSessions, &st.TotalMessages)
	if err != nil {
		return st, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error { return s.db.Close() }
