package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-service/internal/domain"
)

var ended = time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)

func gameResult(sessionID string, standings ...domain.Standing) domain.GameResult {
	return domain.GameResult{
		SessionID:       sessionID,
		GroupID:         "group-1",
		Started:         true,
		QuestionsPlayed: 2,
		TotalQuestions:  2,
		EndedAt:         ended,
		Standings:       standings,
	}
}

func openStore(t *testing.T) (*LeaderboardStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaderboard.json")
	store, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Corrupt())
	return store, path
}

func TestLeaderboardStoreMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, path := openStore(t)

	res := gameResult("s-1",
		domain.Standing{PlayerID: "p1", DisplayName: "One", Points: 4, Correct: 1, FastAnswers: 1, LongestStreak: 1},
		domain.Standing{PlayerID: "p2", DisplayName: "Two", Points: 3, Correct: 1, FastAnswers: 1, LongestStreak: 1},
		domain.Standing{PlayerID: "p3", DisplayName: "Three"},
	)

	applied, err := store.MergeGameResult(ctx, res)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.MergeGameResult(ctx, res)
	require.NoError(t, err)
	assert.False(t, applied)

	// a restart replays the same finalize event
	reopened, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err)
	applied, err = reopened.MergeGameResult(ctx, res)
	require.NoError(t, err)
	assert.False(t, applied)

	got := slices.Collect(reopened.Ranking())
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].PlayerID)
	assert.Equal(t, 4, got[0].TotalPoints)
	assert.Equal(t, 1, got[0].GamesPlayed)
	assert.Equal(t, 1, got[0].GamesWon)
	assert.Equal(t, 2, got[0].QuestionsPlayed)
	assert.InDelta(t, 0.5, got[0].Accuracy, 1e-9)
	assert.Equal(t, ended, got[0].LastPlayedAt)
	assert.Equal(t, 3, got[1].TotalPoints)
	assert.Equal(t, 0, got[1].GamesWon)
	assert.Equal(t, 0, got[2].TotalPoints)
}

func TestLeaderboardStoreAccumulates(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	_, err := store.MergeGameResult(ctx, gameResult("s-1",
		domain.Standing{PlayerID: "p1", DisplayName: "Old name", Points: 4, Correct: 1, LongestStreak: 1},
	))
	require.NoError(t, err)
	_, err = store.MergeGameResult(ctx, gameResult("s-2",
		domain.Standing{PlayerID: "p1", DisplayName: "New name", Points: 6, Correct: 2, LongestStreak: 2},
	))
	require.NoError(t, err)

	got := slices.Collect(store.Ranking())
	require.Len(t, got, 1)
	assert.Equal(t, "New name", got[0].DisplayName)
	assert.Equal(t, 10, got[0].TotalPoints)
	assert.Equal(t, 2, got[0].GamesPlayed)
	assert.Equal(t, 2, got[0].GamesWon)
	assert.Equal(t, 3, got[0].CorrectAnswers)
	assert.Equal(t, 4, got[0].QuestionsPlayed)
	assert.Equal(t, 2, got[0].LongestStreak)
	assert.InDelta(t, 5.0, got[0].AveragePoints(), 1e-9)
}

func TestLeaderboardStoreRankingOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	// same points, accuracy decides, then ID
	_, err := store.MergeGameResult(ctx, gameResult("s-1",
		domain.Standing{PlayerID: "c", Points: 5, Correct: 2},
		domain.Standing{PlayerID: "b", Points: 5, Correct: 1},
		domain.Standing{PlayerID: "a", Points: 5, Correct: 1},
		domain.Standing{PlayerID: "d", Points: 8, Correct: 2},
	))
	require.NoError(t, err)

	var ids []string
	for e := range store.Ranking() {
		ids = append(ids, e.PlayerID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)

	// restartable and stops early
	var first []string
	for e := range store.Ranking() {
		first = append(first, e.PlayerID)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"d", "c"}, first)
}

func TestLeaderboardStoreReset(t *testing.T) {
	ctx := context.Background()
	store, path := openStore(t)

	res := gameResult("s-1", domain.Standing{PlayerID: "p1", Points: 4})
	_, err := store.MergeGameResult(ctx, res)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))
	assert.Empty(t, slices.Collect(store.Ranking()))

	applied, err := store.MergeGameResult(ctx, res)
	require.NoError(t, err)
	assert.False(t, applied, "results merged before a reset stay applied")

	reopened, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(reopened.Ranking()))
}

func TestLeaderboardStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaderboard.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"players":{`), 0o644))

	store, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err)
	require.ErrorIs(t, store.Corrupt(), domain.ErrPersistenceCorrupt)
	assert.Empty(t, slices.Collect(store.Ranking()))

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = store.MergeGameResult(context.Background(), gameResult("s-1", domain.Standing{PlayerID: "p1", Points: 2}))
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLeaderboardStoreCorruptSnapshotStuckInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaderboard.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	// occupy every aside name the next few seconds could produce
	now := time.Now().Unix()
	for sec := now - 1; sec <= now+10; sec++ {
		require.NoError(t, os.MkdirAll(filepath.Join(fmt.Sprintf("%s.corrupt-%d", path, sec), "keep"), 0o755))
	}

	store, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err, "a corrupt snapshot never stops startup")
	require.ErrorIs(t, store.Corrupt(), domain.ErrPersistenceCorrupt)
	assert.Empty(t, slices.Collect(store.Ranking()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(b), "file left where it was")

	_, err = store.MergeGameResult(context.Background(), gameResult("s-1", domain.Standing{PlayerID: "p1", Points: 2}))
	require.NoError(t, err)
	reopened, err := OpenLeaderboardStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Corrupt())
	assert.Len(t, slices.Collect(reopened.Ranking()), 1)
}

func TestLeaderboardStoreFailedWriteKeepsState(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	_, err := store.MergeGameResult(ctx, gameResult("s-1", domain.Standing{PlayerID: "p1", Points: 2}))
	require.NoError(t, err)

	// point the store at a path whose parent is a regular file
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	store.path = filepath.Join(blocker, "leaderboard.json")

	applied, err := store.MergeGameResult(ctx, gameResult("s-2", domain.Standing{PlayerID: "p1", Points: 3}))
	require.Error(t, err)
	assert.False(t, applied)

	got := slices.Collect(store.Ranking())
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].TotalPoints)
}
