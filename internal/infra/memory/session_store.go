package memory

import (
	"context"
	"sync"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

// Reserve registers s for its group. An ended session still in the store is replaced.
func (s *SessionStore) Reserve(_ context.Context, session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[session.GroupID()]; ok && current.Phase() != app.PhaseEnded {
		return domain.ErrSessionAlreadyActive
	}
	s.sessions[session.GroupID()] = session
	return nil
}

func (s *SessionStore) Get(groupID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[groupID]
	return session, ok
}

func (s *SessionStore) Release(_ context.Context, groupID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[groupID]
	if !ok || session.ID() != sessionID {
		return
	}
	delete(s.sessions, groupID)
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
