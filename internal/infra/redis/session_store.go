package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
)

// releaseScript deletes the group key only while it still names the session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Sessions live in a local map; Redis holds one key per group naming the
// owning session so that two instances never run a game in the same group.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Reserve(ctx context.Context, session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupID := session.GroupID()
	current, ok := s.sessions[groupID]
	if ok && current.Phase() != app.PhaseEnded {
		return domain.ErrSessionAlreadyActive
	}

	if ok {
		// the key still names our own ended session
		if err := s.client.Set(ctx, s.key(groupID), session.ID(), s.ttl).Err(); err != nil {
			return fmt.Errorf("reserve group %s: %w", groupID, err)
		}
	} else {
		acquired, err := s.client.SetNX(ctx, s.key(groupID), session.ID(), s.ttl).Result()
		if err != nil {
			return fmt.Errorf("reserve group %s: %w", groupID, err)
		}
		if !acquired {
			return domain.ErrSessionAlreadyActive
		}
	}

	s.sessions[groupID] = session
	return nil
}

func (s *SessionStore) Get(groupID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[groupID]
	return session, ok
}

func (s *SessionStore) Release(ctx context.Context, groupID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[groupID]
	if !ok || session.ID() != sessionID {
		return
	}
	delete(s.sessions, groupID)
	// best-effort; the key expires on its own
	_ = releaseScript.Run(ctx, s.client, []string{s.key(groupID)}, sessionID).Err()
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

func (s *SessionStore) key(groupID string) string {
	return "trivia:session:" + groupID
}
