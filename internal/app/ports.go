package app

import (
	"context"
	"errors"
	"iter"

	"trivia-service/internal/domain"
)

// SessionRepository abstracts where active sessions are registered (in-memory, Redis, etc).
// At most one non-ended session may be registered per group.
type SessionRepository interface {
	// Reserve registers s for its group. It fails with domain.ErrSessionAlreadyActive
	// when the group already has a session that has not ended.
	Reserve(ctx context.Context, s *Session) error
	Get(groupID string) (*Session, bool)
	// Release removes the group's session if it is still sessionID.
	Release(ctx context.Context, groupID, sessionID string)
	List() []*Session
}

// QuestionSource supplies validated questions. An empty category means any.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error)
}

// Explainer produces commentary for a closed question.
type Explainer interface {
	Explain(ctx context.Context, q domain.Question, correctAnswer string) (string, error)
}

// LeaderboardStore is the durable all-time table.
type LeaderboardStore interface {
	// MergeGameResult applies result once per SessionID. It reports false when
	// the result had already been applied.
	MergeGameResult(ctx context.Context, result domain.GameResult) (bool, error)
	// Ranking yields entries in domain.CompareRanking order. Each call to the
	// returned sequence reads the table afresh.
	Ranking() iter.Seq[domain.LeaderboardEntry]
	Reset(ctx context.Context) error
}

// ResultArchive keeps a history of finished games.
type ResultArchive interface {
	ArchiveGame(ctx context.Context, result domain.GameResult) error
}

// Publisher delivers session events to the transport boundary.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Publishers fans an event out to every publisher and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
