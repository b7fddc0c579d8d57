package app_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
	"trivia-service/internal/infra/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 11, 22, 18, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeSource) FetchQuestions(_ context.Context, count int, _ string) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("upstream timeout")
	}
	qs := make([]domain.Question, 0, count)
	for i := range count {
		qs = append(qs, domain.Question{
			ID:      fmt.Sprintf("q%d", i),
			Text:    fmt.Sprintf("Question %d", i),
			Options: []string{"a", "b", "c", "d"},
			Correct: 2,
		})
	}
	return qs, nil
}

type fakeExplainer struct {
	err error
}

func (f fakeExplainer) Explain(_ context.Context, q domain.Question, answer string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s is %s.", q.Text, answer), nil
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	failing int
	merges  int
	applied map[string]bool
	entries map[string]domain.LeaderboardEntry
}

func newFakeLeaderboard() *fakeLeaderboard {
	return &fakeLeaderboard{
		applied: make(map[string]bool),
		entries: make(map[string]domain.LeaderboardEntry),
	}
}

func (f *fakeLeaderboard) MergeGameResult(_ context.Context, res domain.GameResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing > 0 {
		f.failing--
		return false, errors.New("disk full")
	}
	if f.applied[res.SessionID] {
		return false, nil
	}
	f.applied[res.SessionID] = true
	f.merges++
	for _, st := range res.Standings {
		e := f.entries[st.PlayerID]
		e.PlayerID = st.PlayerID
		e.DisplayName = st.DisplayName
		e.TotalPoints += st.Points
		e.GamesPlayed++
		f.entries[st.PlayerID] = e
	}
	return true, nil
}

func (f *fakeLeaderboard) Ranking() iter.Seq[domain.LeaderboardEntry] {
	return func(yield func(domain.LeaderboardEntry) bool) {
		f.mu.Lock()
		entries := slices.Collect(maps.Values(f.entries))
		f.mu.Unlock()
		slices.SortFunc(entries, domain.CompareRanking)
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

func (f *fakeLeaderboard) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]domain.LeaderboardEntry)
	return nil
}

func (f *fakeLeaderboard) mergeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merges
}

type fakeArchive struct {
	mu      sync.Mutex
	results []domain.GameResult
}

func (f *fakeArchive) ArchiveGame(_ context.Context, res domain.GameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type recorder struct {
	mu      sync.Mutex
	events  []domain.Event
	panicOn func(domain.Event) bool
}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	if r.panicOn != nil && r.panicOn(e) {
		panic("publisher exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) named(name string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name())
	}
	return out
}

// gatedPublisher holds every publish until gate is closed.
type gatedPublisher struct {
	recorder
	gate chan struct{}
}

func (g *gatedPublisher) Publish(ctx context.Context, e domain.Event) error {
	<-g.gate
	return g.recorder.Publish(ctx, e)
}

type gatedArchive struct {
	fakeArchive
	gate chan struct{}
}

func (g *gatedArchive) ArchiveGame(ctx context.Context, res domain.GameResult) error {
	<-g.gate
	return g.fakeArchive.ArchiveGame(ctx, res)
}

type fixture struct {
	sched   *app.Scheduler
	clock   *clock
	source  *fakeSource
	board   *fakeLeaderboard
	archive *fakeArchive
	events  *recorder
}

func newFixture(t *testing.T, mutate func(*app.Config)) fixture {
	t.Helper()
	f := fixture{
		clock:   newClock(),
		source:  &fakeSource{},
		board:   newFakeLeaderboard(),
		archive: &fakeArchive{},
		events:  &recorder{},
	}
	cfg := app.Config{
		Sessions:      memory.NewSessionStore(),
		Questions:     f.source,
		Leaderboard:   f.board,
		Archive:       f.archive,
		Publisher:     f.events,
		QuestionCount: 2,
		RetryInterval: time.Millisecond,
		Now:           f.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.sched = app.NewScheduler(cfg)
	t.Cleanup(f.sched.Close)
	return f
}

func (f fixture) startGame(t *testing.T, group string, players ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.sched.Announce(ctx, group, app.AnnounceOptions{})
	require.NoError(t, err)
	for _, id := range players {
		require.NoError(t, f.sched.Join(ctx, group, domain.Player{ID: id, DisplayName: "Player " + id}))
	}
	require.NoError(t, f.sched.Begin(ctx, group))
}

func TestSchedulerAnnounceRetriesProvider(t *testing.T) {
	f := newFixture(t, nil)
	f.source.failures = 2

	snap, err := f.sched.Announce(context.Background(), "g1", app.AnnounceOptions{Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, f.source.calls)
	assert.Equal(t, string(app.PhaseOpen), snap.Phase)
	assert.Equal(t, 3, snap.TotalQuestions)
	f.sched.Wait()
	assert.Len(t, f.events.named(domain.EventNameSessionAnnounced), 1)
}

func TestSchedulerAnnounceFailureReleasesGroup(t *testing.T) {
	f := newFixture(t, nil)
	f.source.failures = 3
	ctx := context.Background()

	_, err := f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 3, f.source.calls)

	_, err = f.sched.Standings("g1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.NoError(t, err)
}

func TestSchedulerOneActiveSessionPerGroup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.NoError(t, err)
	_, err = f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.ErrorIs(t, err, domain.ErrSessionAlreadyActive)

	_, err = f.sched.Announce(ctx, "g2", app.AnnounceOptions{})
	require.NoError(t, err)
}

func TestSchedulerUnknownGroup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.sched.Join(ctx, "nope", domain.Player{ID: "u1"}), domain.ErrSessionNotFound)
	require.ErrorIs(t, f.sched.Begin(ctx, "nope"), domain.ErrSessionNotFound)
	_, err := f.sched.Submit(ctx, "nope", "u1", 0, 0)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.sched.Roster("nope")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSchedulerFullGame(t *testing.T) {
	f := newFixture(t, func(c *app.Config) { c.Explainer = fakeExplainer{} })
	ctx := context.Background()
	f.startGame(t, "g1", "alice", "bob")

	f.clock.Add(5 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Empty(t, f.events.named(domain.EventNameQuestionPublished), "lead-in not over")

	f.clock.Add(5 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	require.Len(t, f.events.named(domain.EventNameQuestionPublished), 1)

	f.clock.Add(3 * time.Second)
	res, err := f.sched.Submit(ctx, "g1", "alice", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Points)
	res, err = f.sched.Submit(ctx, "g1", "bob", 0, 0)
	require.NoError(t, err)
	assert.True(t, res.AllAnswered)
	f.sched.Wait()
	require.Len(t, f.events.named(domain.EventNameQuestionClosed), 1)

	f.clock.Add(30 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	require.Len(t, f.events.named(domain.EventNameQuestionPublished), 2)

	f.clock.Add(60 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	closed := f.events.named(domain.EventNameQuestionClosed)
	require.Len(t, closed, 2)
	assert.Equal(t, domain.CloseTimeout, closed[1].(domain.EventQuestionClosed).Reason)
	assert.True(t, closed[1].(domain.EventQuestionClosed).Last)

	f.clock.Add(30 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	ended := f.events.named(domain.EventNameGameEnded)
	require.Len(t, ended, 1)
	result := ended[0].(domain.EventGameEnded).Result
	assert.False(t, result.Forced)
	assert.Equal(t, 2, result.QuestionsPlayed)

	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Equal(t, 1, f.board.mergeCount())
	assert.Equal(t, 1, f.archive.count())
	assert.Len(t, f.events.named(domain.EventNameExplanationReady), 2)

	snap, err := f.sched.Standings("g1")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseEnded), snap.Phase)
	require.Len(t, snap.Standings, 2)
	assert.Equal(t, "alice", snap.Standings[0].PlayerID)
	assert.Equal(t, 4, snap.Standings[0].Points)

	ranking := f.sched.Ranking(0)
	require.Len(t, ranking, 1, "bob scored nothing")
	assert.Equal(t, "alice", ranking[0].PlayerID)

	_, err = f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.NoError(t, err, "group is free after the game")
}

func TestSchedulerExplanationUnavailable(t *testing.T) {
	f := newFixture(t, func(c *app.Config) {
		c.Explainer = fakeExplainer{err: domain.ErrProviderUnavailable}
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	ctx := context.Background()
	f.startGame(t, "g1", "alice")

	_, err := f.sched.Submit(ctx, "g1", "alice", 0, 2)
	require.NoError(t, err)
	f.sched.Wait()

	explained := f.events.named(domain.EventNameExplanationReady)
	require.Len(t, explained, 1)
	ev := explained[0].(domain.EventExplanationReady)
	assert.False(t, ev.Available)
	assert.Empty(t, ev.Text)
	assert.Equal(t, 0, ev.Index)

	f.clock.Add(time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Len(t, f.events.named(domain.EventNameQuestionPublished), 2, "game continues without explanation")
}

func TestSchedulerForceEndBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sched.Announce(ctx, "g1", app.AnnounceOptions{})
	require.NoError(t, err)
	require.NoError(t, f.sched.Join(ctx, "g1", domain.Player{ID: "alice", DisplayName: "Alice"}))
	require.NoError(t, f.sched.ForceEnd(ctx, "g1"))

	assert.Equal(t, 0, f.board.mergeCount())
	assert.Equal(t, 0, f.archive.count())
	snap, err := f.sched.Standings("g1")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseEnded), snap.Phase)

	require.ErrorIs(t, f.sched.ForceEnd(ctx, "g1"), domain.ErrSessionNotFound)
}

func TestSchedulerForceEndMidGameMerges(t *testing.T) {
	f := newFixture(t, func(c *app.Config) {
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	ctx := context.Background()
	f.startGame(t, "g1", "alice", "bob")

	_, err := f.sched.Submit(ctx, "g1", "alice", 0, 2)
	require.NoError(t, err)
	require.NoError(t, f.sched.ForceEnd(ctx, "g1"))
	f.sched.Wait()

	ended := f.events.named(domain.EventNameGameEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].(domain.EventGameEnded).Result.Forced)
	assert.Equal(t, 1, f.board.mergeCount())

	f.clock.Add(2 * time.Minute)
	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Empty(t, f.events.named(domain.EventNameQuestionClosed), "timeout after force end is a no-op")
}

func TestSchedulerRetriesFailedMerge(t *testing.T) {
	f := newFixture(t, func(c *app.Config) {
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	f.board.failing = 1
	ctx := context.Background()
	f.startGame(t, "g1", "alice")

	require.NoError(t, f.sched.ForceEnd(ctx, "g1"))
	f.sched.Wait()
	assert.Equal(t, 0, f.board.mergeCount())

	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Equal(t, 1, f.board.mergeCount())
	f.sched.Tick(ctx)
	f.sched.Wait()
	assert.Equal(t, 1, f.board.mergeCount())
}

// explodingStore panics when a game of the bad group is released.
type explodingStore struct {
	*memory.SessionStore
}

func (s explodingStore) Release(ctx context.Context, groupID, sessionID string) {
	if groupID == "bad" {
		panic("release exploded")
	}
	s.SessionStore.Release(ctx, groupID, sessionID)
}

func TestSchedulerTickIsolatesPanics(t *testing.T) {
	f := newFixture(t, func(c *app.Config) {
		c.Sessions = explodingStore{memory.NewSessionStore()}
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
		c.QuestionCount = 1
	})
	ctx := context.Background()
	f.startGame(t, "bad", "alice")
	f.startGame(t, "good", "bob")

	f.clock.Add(time.Minute + time.Second)
	require.NotPanics(t, func() { f.sched.Tick(ctx) })
	require.NotPanics(t, func() { f.sched.Tick(ctx) }, "ended but unreleased session is retried")
	f.sched.Wait()

	ended := f.events.named(domain.EventNameGameEnded)
	require.Len(t, ended, 2)
	snap, err := f.sched.Standings("bad")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseEnded), snap.Phase)
	_, err = f.sched.Announce(ctx, "good", app.AnnounceOptions{})
	require.NoError(t, err)
}

func TestSchedulerPublishPanicKeepsDispatching(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.events.panicOn = func(e domain.Event) bool {
		return e.Group() == "bad" && e.Name() == domain.EventNameQuestionPublished
	}
	f.startGame(t, "bad", "alice")
	f.startGame(t, "good", "bob")

	f.clock.Add(10 * time.Second)
	f.sched.Tick(ctx)
	f.sched.Wait()

	published := f.events.named(domain.EventNameQuestionPublished)
	require.Len(t, published, 1)
	assert.Equal(t, "good", published[0].Group())
}

func TestSchedulerRankingLimit(t *testing.T) {
	f := newFixture(t, nil)
	for i := range 15 {
		id := fmt.Sprintf("p%02d", i)
		f.board.entries[id] = domain.LeaderboardEntry{PlayerID: id, TotalPoints: i}
	}

	assert.Len(t, f.sched.Ranking(0), 10)
	all := f.sched.Ranking(20)
	require.Len(t, all, 14, "players without points are hidden")
	assert.Equal(t, "p01", all[13].PlayerID)
	top := f.sched.Ranking(3)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"p14", "p13", "p12"}, []string{top[0].PlayerID, top[1].PlayerID, top[2].PlayerID})

	require.NoError(t, f.sched.ResetLeaderboard(context.Background()))
	assert.Empty(t, f.sched.Ranking(5))
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, func(c *app.Config) { c.TickInterval = 10 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSchedulerPublishesInTransitionOrder(t *testing.T) {
	f := newFixture(t, func(c *app.Config) {
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	ctx := context.Background()
	f.startGame(t, "g1", "alice", "bob")

	_, err := f.sched.Submit(ctx, "g1", "alice", 0, 2)
	require.NoError(t, err)
	_, err = f.sched.Submit(ctx, "g1", "bob", 0, 1)
	require.NoError(t, err)
	f.sched.Wait()

	assert.Equal(t, []string{
		domain.EventNameSessionAnnounced,
		domain.EventNamePlayerJoined,
		domain.EventNamePlayerJoined,
		domain.EventNameGameStarted,
		domain.EventNameQuestionPublished,
		domain.EventNameSubmissionAccepted,
		domain.EventNameSubmissionAccepted,
		domain.EventNameQuestionClosed,
	}, f.events.names())
}

func TestSchedulerSlowPublisherDoesNotBlockGame(t *testing.T) {
	pub := &gatedPublisher{gate: make(chan struct{})}
	f := newFixture(t, func(c *app.Config) {
		c.Publisher = pub
		c.OutboxSize = 2
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	release := sync.OnceFunc(func() { close(pub.gate) })
	t.Cleanup(release)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		if _, err := f.sched.Announce(ctx, "g1", app.AnnounceOptions{}); err != nil {
			done <- err
			return
		}
		if err := f.sched.Join(ctx, "g1", domain.Player{ID: "alice", DisplayName: "Alice"}); err != nil {
			done <- err
			return
		}
		if err := f.sched.Begin(ctx, "g1"); err != nil {
			done <- err
			return
		}
		_, err := f.sched.Submit(ctx, "g1", "alice", 0, 2)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("game operations waited for the publisher")
	}
	snap, err := f.sched.Standings("g1")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseQuestionClosed), snap.Phase)

	release()
	f.sched.Wait()
	// one event in flight plus a full queue; the rest were dropped
	assert.LessOrEqual(t, len(pub.names()), 3)
	assert.NotEmpty(t, pub.names())
}

func TestSchedulerSlowArchiveDoesNotDelayTimeouts(t *testing.T) {
	archive := &gatedArchive{gate: make(chan struct{})}
	f := newFixture(t, func(c *app.Config) {
		c.Archive = archive
		c.QuestionCount = 1
		c.Timing = app.Timing{QuestionTimeout: time.Minute, SettleDelay: time.Second}
	})
	release := sync.OnceFunc(func() { close(archive.gate) })
	t.Cleanup(release)
	ctx := context.Background()

	f.startGame(t, "a", "alice")
	f.clock.Add(2 * time.Second)
	f.startGame(t, "b", "bob")

	// a times out at +60s and ends at +61s; b times out at +62s
	f.clock.Add(58*time.Second + 500*time.Millisecond)
	f.sched.Tick(ctx)
	f.clock.Add(2 * time.Second)

	ticked := make(chan struct{})
	go func() {
		f.sched.Tick(ctx)
		close(ticked)
	}()
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick waited for the archive")
	}

	snap, err := f.sched.Standings("b")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseQuestionClosed), snap.Phase)
	snap, err = f.sched.Standings("a")
	require.NoError(t, err)
	assert.Equal(t, string(app.PhaseEnded), snap.Phase)
	assert.Zero(t, archive.count())

	release()
	f.sched.Wait()
	assert.Equal(t, 1, archive.count())
	assert.Equal(t, 1, f.board.mergeCount())
}
