package domain

import "time"

// Player is a chat participant identified by a stable ID.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Question is a multiple-choice question with exactly one correct option.
// Questions are immutable once drawn into a session.
type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Correct    int      `json:"correct"`
	Category   string   `json:"category,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// CorrectAnswer returns the text of the correct option.
func (q Question) CorrectAnswer() string {
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return ""
	}
	return q.Options[q.Correct]
}

// Submission is one accepted answer of a player to a question.
type Submission struct {
	PlayerID string        `json:"playerId"`
	Question int           `json:"question"`
	Option   int           `json:"option"`
	Elapsed  time.Duration `json:"elapsed"`
	Correct  bool          `json:"correct"`
	Points   int           `json:"points"`
}

// Standing is a player's running totals within one game.
type Standing struct {
	PlayerID      string `json:"playerId"`
	DisplayName   string `json:"displayName"`
	Points        int    `json:"points"`
	BasePoints    int    `json:"basePoints"`
	BonusPoints   int    `json:"bonusPoints"`
	Correct       int    `json:"correct"`
	Answered      int    `json:"answered"`
	FastAnswers   int    `json:"fastAnswers"`
	LongestStreak int    `json:"longestStreak"`
}

// SessionSnapshot is an immutable view of a session for display.
type SessionSnapshot struct {
	SessionID      string     `json:"sessionId"`
	GroupID        string     `json:"groupId"`
	Phase          string     `json:"phase"`
	Question       int        `json:"question"`
	TotalQuestions int        `json:"totalQuestions"`
	Deadline       time.Time  `json:"deadline,omitempty"`
	Roster         int        `json:"roster"`
	Standings      []Standing `json:"standings"`
}

// GameResult is the outcome of a finished session. Its SessionID identifies the
// finalize event when merged into the all-time leaderboard.
type GameResult struct {
	SessionID       string     `json:"sessionId"`
	GroupID         string     `json:"groupId"`
	Started         bool       `json:"started"`
	Forced          bool       `json:"forced"`
	QuestionsPlayed int        `json:"questionsPlayed"`
	TotalQuestions  int        `json:"totalQuestions"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         time.Time  `json:"endedAt"`
	Standings       []Standing `json:"standings"`
}
