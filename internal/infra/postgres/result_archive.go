package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trivia-service/internal/domain"
)

type gameResultModel struct {
	bun.BaseModel `bun:"table:game_results,alias:gr"`

	SessionID       string    `bun:"session_id,pk"`
	GroupID         string    `bun:"group_id,notnull"`
	Forced          bool      `bun:"forced,notnull"`
	QuestionsPlayed int       `bun:"questions_played,notnull"`
	TotalQuestions  int       `bun:"total_questions,notnull"`
	StartedAt       time.Time `bun:"started_at,notnull"`
	EndedAt         time.Time `bun:"ended_at,notnull"`

	Standings []gameStandingModel `bun:"rel:has-many,join:session_id=session_id"`
}

type gameStandingModel struct {
	bun.BaseModel `bun:"table:game_standings,alias:gs"`

	SessionID     string `bun:"session_id,pk"`
	PlayerID      string `bun:"player_id,pk"`
	DisplayName   string `bun:"display_name,notnull"`
	Rank          int    `bun:"rank,notnull"`
	Points        int    `bun:"points,notnull"`
	BasePoints    int    `bun:"base_points,notnull"`
	BonusPoints   int    `bun:"bonus_points,notnull"`
	Correct       int    `bun:"correct,notnull"`
	Answered      int    `bun:"answered,notnull"`
	FastAnswers   int    `bun:"fast_answers,notnull"`
	LongestStreak int    `bun:"longest_streak,notnull"`
}

// ResultArchive stores every finished game and its final standings.
type ResultArchive struct {
	db *bun.DB
}

func NewResultArchive(db *bun.DB) *ResultArchive {
	return &ResultArchive{db: db}
}

// ArchiveGame is idempotent per session ID.
func (a *ResultArchive) ArchiveGame(ctx context.Context, res domain.GameResult) error {
	game := gameResultModel{
		SessionID:       res.SessionID,
		GroupID:         res.GroupID,
		Forced:          res.Forced,
		QuestionsPlayed: res.QuestionsPlayed,
		TotalQuestions:  res.TotalQuestions,
		StartedAt:       res.StartedAt,
		EndedAt:         res.EndedAt,
	}
	standings := make([]gameStandingModel, 0, len(res.Standings))
	for i, st := range res.Standings {
		standings = append(standings, gameStandingModel{
			SessionID:     res.SessionID,
			PlayerID:      st.PlayerID,
			DisplayName:   st.DisplayName,
			Rank:          i + 1,
			Points:        st.Points,
			BasePoints:    st.BasePoints,
			BonusPoints:   st.BonusPoints,
			Correct:       st.Correct,
			Answered:      st.Answered,
			FastAnswers:   st.FastAnswers,
			LongestStreak: st.LongestStreak,
		})
	}

	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&game).On("CONFLICT (session_id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert game: %w", err)
		}
		if len(standings) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&standings).On("CONFLICT (session_id, player_id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert standings: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive game %s: %w", res.SessionID, err)
	}
	return nil
}

// RecentGames returns the latest archived games of a group, newest first.
func (a *ResultArchive) RecentGames(ctx context.Context, groupID string, limit int) ([]domain.GameResult, error) {
	var games []gameResultModel
	err := a.db.NewSelect().
		Model(&games).
		Relation("Standings", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("gs.rank ASC")
		}).
		Where("gr.group_id = ?", groupID).
		Order("gr.ended_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent games for %s: %w", groupID, err)
	}

	out := make([]domain.GameResult, 0, len(games))
	for _, g := range games {
		res := domain.GameResult{
			SessionID:       g.SessionID,
			GroupID:         g.GroupID,
			Started:         true,
			Forced:          g.Forced,
			QuestionsPlayed: g.QuestionsPlayed,
			TotalQuestions:  g.TotalQuestions,
			StartedAt:       g.StartedAt,
			EndedAt:         g.EndedAt,
			Standings:       make([]domain.Standing, 0, len(g.Standings)),
		}
		for _, st := range g.Standings {
			res.Standings = append(res.Standings, domain.Standing{
				PlayerID:      st.PlayerID,
				DisplayName:   st.DisplayName,
				Points:        st.Points,
				BasePoints:    st.BasePoints,
				BonusPoints:   st.BonusPoints,
				Correct:       st.Correct,
				Answered:      st.Answered,
				FastAnswers:   st.FastAnswers,
				LongestStreak: st.LongestStreak,
			})
		}
		out = append(out, res)
	}
	return out, nil
}
