// Package memory provides an in-process Store and RequestLogStore. Data does
// not survive a restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/chatrelay"
)

// Store keeps sessions and request logs in maps guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*chatrelay.Session
	logs     map[string]chatrelay.RequestLog
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*chatrelay.Session),
		logs:     make(map[string]chatrelay.RequestLog),
	}
}

// Load returns a copy of the stored session.
func (s *Store) Load(ctx context.Context, id string) (*chatrelay.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, chatrelay.ErrSessionNotFound
	}
	c := stored.Clone()
	c.Base = len(c.Turns)
	return c, nil
}

// Create returns an empty session that exists only in the caller's hands.
func (s *Store) Create(ctx context.Context, id string) (*chatrelay.Session, error) {
	return chatrelay.NewSession(id), nil
}

// Save replaces the stored copy if it still holds session.Base turns.
func (s *Store) Save(ctx context.Context, session *chatrelay.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("chatrelay: save session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var storedTurns []chatrelay.Turn
	if stored, ok := s.sessions[session.ID]; ok {
		storedTurns = stored.Turns
	}
	if len(storedTurns) != session.Base && !chatrelay.SameTurns(storedTurns, session.Turns) {
		return fmt.Errorf("chatrelay: save session %s (%d stored, base %d): %w",
			session.ID, len(storedTurns), session.Base, chatrelay.ErrStaleSession)
	}
	if len(storedTurns) == session.Base {
		s.sessions[session.ID] = session.Clone()
	}
	session.Base = len(session.Turns)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// AddRequestLog stores a new log entry with pending status.
func (s *Store) AddRequestLog(ctx context.Context, log chatrelay.RequestLog) (*chatrelay.RequestLog, error) {
	now := time.Now().UTC()
	log.ID = uuid.New().String()
	log.FinalStatus = chatrelay.StatusPending
	log.CreatedAt = now
	log.UpdatedAt = now

	s.mu.Lock()
	s.logs[log.ID] = log
	s.mu.Unlock()

	return &log, nil
}

// UpdateRequestLog replaces the mutable fields of an existing entry.
func (s *Store) UpdateRequestLog(ctx context.Context, log chatrelay.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.logs[log.ID]
	if !ok {
		return fmt.Errorf("chatrelay: request log %s not found", log.ID)
	}
	existing.Response = log.Response
	existing.Attempts = log.Attempts
	existing.FinalStatus = log.FinalStatus
	existing.FailReason = log.FailReason
	existing.ErrorMessage = log.ErrorMessage
	existing.Usage = log.Usage
	existing.UpdatedAt = time.Now().UTC()
	s.logs[log.ID] = existing
	return nil
}

// RequestLogs returns all log entries for a session, oldest first.
func (s *Store) RequestLogs(sessionID string) []chatrelay.RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chatrelay.RequestLog
	for _, l := range s.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b chatrelay.RequestLog) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Ensure Store implements the contracts at compile time.
var (
	_ chatrelay.Store           = (*Store)(nil)
	_ chatrelay.RequestLogStore = (*Store)(nil)
)
