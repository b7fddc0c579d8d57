package domain

import (
	"cmp"
	"slices"
	"time"
)

// LeaderboardEntry holds a player's all-time statistics.
type LeaderboardEntry struct {
	PlayerID        string    `json:"playerId"`
	DisplayName     string    `json:"displayName"`
	TotalPoints     int       `json:"totalPoints"`
	GamesPlayed     int       `json:"gamesPlayed"`
	GamesWon        int       `json:"gamesWon"`
	CorrectAnswers  int       `json:"correctAnswers"`
	QuestionsPlayed int       `json:"questionsPlayed"`
	FastAnswers     int       `json:"fastAnswers"`
	Accuracy        float64   `json:"accuracy"`
	LongestStreak   int       `json:"longestStreak"`
	LastPlayedAt    time.Time `json:"lastPlayedAt"`
}

// AveragePoints is the mean points per game played.
func (e LeaderboardEntry) AveragePoints() float64 {
	if e.GamesPlayed == 0 {
		return 0
	}
	return float64(e.TotalPoints) / float64(e.GamesPlayed)
}

// CompareRanking orders entries by total points descending, then accuracy
// descending, then player ID ascending.
func CompareRanking(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Accuracy, a.Accuracy); c != 0 {
		return c
	}
	return cmp.Compare(a.PlayerID, b.PlayerID)
}

// CompareStandings orders in-game standings by points, bonus points and correct
// answers (all descending), then player ID ascending.
func CompareStandings(a, b Standing) int {
	if c := cmp.Compare(b.Points, a.Points); c != 0 {
		return c
	}
	if c := cmp.Compare(b.BonusPoints, a.BonusPoints); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Correct, a.Correct); c != 0 {
		return c
	}
	return cmp.Compare(a.PlayerID, b.PlayerID)
}

// SortStandings sorts standings in place using CompareStandings.
func SortStandings(s []Standing) {
	slices.SortFunc(s, CompareStandings)
}

// Winners returns the players tied for the highest score. Nobody wins a game
// where the top score is zero.
func Winners(standings []Standing) map[string]bool {
	top := 0
	for _, s := range standings {
		top = max(top, s.Points)
	}
	winners := make(map[string]bool)
	if top == 0 {
		return winners
	}
	for _, s := range standings {
		if s.Points == top {
			winners[s.PlayerID] = true
		}
	}
	return winners
}
