package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"trivia-service/internal/domain"
)

const snapshotVersion = 1

type snapshot struct {
	Version int                                `json:"version"`
	Players map[string]domain.LeaderboardEntry `json:"players"`
	// Applied records every merged game by session ID so a replayed result is ignored.
	Applied map[string]appliedGame `json:"applied"`
}

type appliedGame struct {
	GroupID string    `json:"groupId"`
	EndedAt time.Time `json:"endedAt"`
}

func emptySnapshot() snapshot {
	return snapshot{
		Version: snapshotVersion,
		Players: make(map[string]domain.LeaderboardEntry),
		Applied: make(map[string]appliedGame),
	}
}

func (s snapshot) clone() snapshot {
	return snapshot{
		Version: s.Version,
		Players: maps.Clone(s.Players),
		Applied: maps.Clone(s.Applied),
	}
}

// LeaderboardStore keeps all-time statistics in a single JSON file. Every
// mutation rewrites the whole file through a temp file and rename, and the
// in-memory table only changes once the write succeeded.
type LeaderboardStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	snap    snapshot
	corrupt error
}

// OpenLeaderboardStore loads the snapshot at path. A missing file yields an
// empty table. An unreadable file is moved aside to <path>.corrupt-<unix> when
// possible and the store starts empty either way; Corrupt reports what happened.
func OpenLeaderboardStore(path string, logger *slog.Logger) (*LeaderboardStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LeaderboardStore{path: path, logger: logger, snap: emptySnapshot()}

	snap, err := readSnapshot(path)
	switch {
	case err == nil:
		s.snap = snap
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("leaderboard: no snapshot, starting empty", slog.String("path", path))
	default:
		s.corrupt = fmt.Errorf("%w: %w", domain.ErrPersistenceCorrupt, err)
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			// keep serving; the next save overwrites the unreadable file
			logger.Error("leaderboard: SNAPSHOT CORRUPT and could not be moved aside, all-time history reset to empty",
				slog.String("path", path),
				slog.String("moved_to", aside),
				slog.Any("error", s.corrupt),
				slog.Any("rename_error", rerr),
			)
			break
		}
		logger.Error("leaderboard: SNAPSHOT CORRUPT, all-time history reset to empty",
			slog.String("path", path),
			slog.String("moved_to", aside),
			slog.Any("error", s.corrupt),
		)
	}
	return s, nil
}

func readSnapshot(path string) (snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return snapshot{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Players == nil {
		snap.Players = make(map[string]domain.LeaderboardEntry)
	}
	if snap.Applied == nil {
		snap.Applied = make(map[string]appliedGame)
	}
	return snap, nil
}

// Corrupt returns the load error when the snapshot had to be discarded.
func (s *LeaderboardStore) Corrupt() error {
	return s.corrupt
}

func (s *LeaderboardStore) MergeGameResult(_ context.Context, res domain.GameResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snap.Applied[res.SessionID]; ok {
		return false, nil
	}

	next := s.snap.clone()
	winners := domain.Winners(res.Standings)
	for _, st := range res.Standings {
		e := next.Players[st.PlayerID]
		e.PlayerID = st.PlayerID
		if st.DisplayName != "" {
			e.DisplayName = st.DisplayName
		}
		e.TotalPoints += st.Points
		e.GamesPlayed++
		if winners[st.PlayerID] {
			e.GamesWon++
		}
		e.CorrectAnswers += st.Correct
		e.QuestionsPlayed += res.QuestionsPlayed
		e.FastAnswers += st.FastAnswers
		e.LongestStreak = max(e.LongestStreak, st.LongestStreak)
		if e.QuestionsPlayed > 0 {
			e.Accuracy = float64(e.CorrectAnswers) / float64(e.QuestionsPlayed)
		}
		e.LastPlayedAt = res.EndedAt
		next.Players[st.PlayerID] = e
	}
	next.Applied[res.SessionID] = appliedGame{GroupID: res.GroupID, EndedAt: res.EndedAt}

	if err := s.write(next); err != nil {
		return false, err
	}
	s.snap = next
	return true, nil
}

func (s *LeaderboardStore) Ranking() iter.Seq[domain.LeaderboardEntry] {
	return func(yield func(domain.LeaderboardEntry) bool) {
		s.mu.RLock()
		entries := slices.Collect(maps.Values(s.snap.Players))
		s.mu.RUnlock()

		slices.SortFunc(entries, domain.CompareRanking)
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Reset clears every entry. Applied session IDs are kept so results that were
// merged before the reset are not applied again.
func (s *LeaderboardStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.clone()
	next.Players = make(map[string]domain.LeaderboardEntry)
	if err := s.write(next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *LeaderboardStore) write(snap snapshot) (err error) {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
