// Package file implements store.SessionStore as a directory of JSON
// documents, one per session. Suited for development and single-node
// deployments; writes are atomic (temp file + rename).
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/conversation"
	"github.com/nmogil-tw/twilio-openai-conversations/internal/store"
)

// Store keeps every session in memory and mirrors each mutation to disk.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.Session
	dir      string
}

// Open loads all sessions from dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Store{
		sessions: make(map[string]*conversation.Session),
		dir:      dir,
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, sessionID string) (*conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) Put(_ context.Context, in *conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[in.ID]
	if !ok {
		sess = cloneSession(in)
		s.sessions[in.ID] = sess
	} else {
		// Upsert metadata only; the message log is append-only.
		sess.ConversationSID = in.ConversationSID
		sess.ServiceSID = in.ServiceSID
		sess.ParticipantSID = in.ParticipantSID
		sess.State = in.State
		sess.Context = in.Context.Clone()
		sess.UpdatedAt = in.UpdatedAt
		sess.LastActivityAt = in.LastActivityAt
	}
	return s.save(sess)
}

func (s *Store) AppendMessage(_ context.Context, sessionID string, msg conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	if sess.HasMessage(msg.ID) {
		return nil // duplicate delivery
	}
	sess.Messages = append(sess.Messages, msg)
	sess.Touch(time.Now().UTC())
	return s.save(sess)
}

func (s *Store) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivityAt.Before(cutoff) {
			delete(s.sessions, id)
			path := filepath.Join(s.dir, sanitizeFilename(id)+".json")
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("remove session file: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.Stats
	activeSince := time.Now().UTC().Add(-time.Hour)
	for _, sess := range s.sessions {
		st.TotalSessions++
		st.TotalMessages += len(sess.Messages)
		if sess.LastActivityAt.After(activeSince) {
			st.ActiveSessions++
		}
	}
	return st, nil
}

func (s *Store) Close() error { return nil }

// save persists one session atomically. Caller holds the write lock.
func (s *Store) save(sess *conversation.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	filename := sanitizeFilename(sess.ID)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	path := filepath.Join(s.dir, filename+".json")

	tmp, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *Store) loadAll() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var sess conversation.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue // skip corrupt files rather than refuse to start
		}
		if sess.ID != "" {
			s.sessions[sess.ID] = &sess
		}
	}
	return nil
}

func cloneSession(in *conversation.Session) *conversation.Session {
	out := *in
	out.Messages = make([]conversation.Message, len(in.Messages))
	copy(out.Messages, in.Messages)
	if in.Context != nil {
		out.Context = in.Context.Clone()
	} else {
		out.Context = conversation.Context{}
	}
	return &out
}

func sanitizeFilename(id string) string {
	return strings.ReplaceAll(id, ":", "_")
}
