package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"trivia-service/internal/domain"
	"trivia-service/internal/metrics"
)

const (
	defaultQuestionCount  = 10
	defaultTickInterval   = 500 * time.Millisecond
	maxTickInterval       = time.Second
	defaultFetchRetries   = 2
	defaultRetryInterval  = time.Second
	defaultExplainTimeout = 20 * time.Second
	defaultRankingLimit   = 10
	defaultPersistTimeout = 10 * time.Second
	defaultOutboxSize     = 1024
	publishTimeout        = 5 * time.Second
)

type Config struct {
	Sessions    SessionRepository
	Questions   QuestionSource
	Leaderboard LeaderboardStore
	// Explainer, Archive and Publisher are optional.
	Explainer Explainer
	Archive   ResultArchive
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	Timing        Timing
	QuestionCount int
	// Category is used when an announcement names none. Empty means any.
	Category string
	// TickInterval is capped at one second.
	TickInterval time.Duration
	// FetchRetries is the number of retries after the first failed question fetch.
	FetchRetries   uint64
	RetryInterval  time.Duration
	ExplainTimeout time.Duration
	// PersistTimeout bounds the background leaderboard merge and archive of a finished game.
	PersistTimeout time.Duration
	// OutboxSize is the number of events queued for publishing before new ones are dropped.
	OutboxSize int

	Now   func() time.Time
	NewID func() (string, error)
}

var errEmptyBatch = errors.New("fetch questions: empty batch")

// AnnounceOptions customizes a new session. Zero values use the defaults.
type AnnounceOptions struct {
	Category string
	Count    int
}

// Scheduler owns the group to session mapping and drives every active session.
type Scheduler struct {
	sessions    SessionRepository
	questions   QuestionSource
	leaderboard LeaderboardStore
	explainer   Explainer
	archive     ResultArchive
	publisher   Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger

	timing         Timing
	questionCount  int
	category       string
	tickInterval   time.Duration
	fetchRetries   uint64
	retryInterval  time.Duration
	explainTimeout time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() (string, error)

	wg sync.WaitGroup

	// outbox feeds the dispatcher, which publishes events one at a time in
	// the order the sessions emitted them.
	outbox     chan outboxItem
	dispatched chan struct{}
	closeMu    sync.RWMutex
	closed     bool

	mu          sync.Mutex
	lastResults map[string]domain.GameResult
	pending     map[string]domain.GameResult

	flushMu sync.Mutex
}

func NewScheduler(c Config) *Scheduler {
	sc := &Scheduler{
		sessions:       c.Sessions,
		questions:      c.Questions,
		leaderboard:    c.Leaderboard,
		explainer:      c.Explainer,
		archive:        c.Archive,
		publisher:      c.Publisher,
		metrics:        c.Metrics,
		logger:         c.Logger,
		timing:         c.Timing,
		questionCount:  c.QuestionCount,
		category:       c.Category,
		tickInterval:   c.TickInterval,
		fetchRetries:   c.FetchRetries,
		retryInterval:  c.RetryInterval,
		explainTimeout: c.ExplainTimeout,
		persistTimeout: c.PersistTimeout,
		now:            c.Now,
		newID:          c.NewID,
		lastResults:    make(map[string]domain.GameResult),
		pending:        make(map[string]domain.GameResult),
		dispatched:     make(chan struct{}),
	}
	if sc.timing == (Timing{}) {
		sc.timing = DefaultTiming()
	}
	if sc.questionCount <= 0 {
		sc.questionCount = defaultQuestionCount
	}
	if sc.tickInterval <= 0 {
		sc.tickInterval = defaultTickInterval
	}
	sc.tickInterval = min(sc.tickInterval, maxTickInterval)
	if c.FetchRetries == 0 {
		sc.fetchRetries = defaultFetchRetries
	}
	if sc.retryInterval <= 0 {
		sc.retryInterval = defaultRetryInterval
	}
	if sc.explainTimeout <= 0 {
		sc.explainTimeout = defaultExplainTimeout
	}
	if sc.persistTimeout <= 0 {
		sc.persistTimeout = defaultPersistTimeout
	}
	if sc.logger == nil {
		sc.logger = slog.Default()
	}
	if sc.now == nil {
		sc.now = time.Now
	}
	if sc.newID == nil {
		sc.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	outboxSize := c.OutboxSize
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	sc.outbox = make(chan outboxItem, outboxSize)
	go sc.dispatch()
	return sc
}

// Announce creates a session for groupID, fetches its questions and opens it
// for joining. The group slot is released again if the fetch fails.
func (sc *Scheduler) Announce(ctx context.Context, groupID string, opts AnnounceOptions) (domain.SessionSnapshot, error) {
	id, err := sc.newID()
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("generate session ID: %w", err)
	}
	count := opts.Count
	if count <= 0 {
		count = sc.questionCount
	}
	category := opts.Category
	if category == "" {
		category = sc.category
	}

	s := NewSession(id, groupID, category, sc.timing, sc.now())
	s.SetEventSink(sc.enqueue)
	if err := sc.sessions.Reserve(ctx, s); err != nil {
		return domain.SessionSnapshot{}, err
	}

	questions, err := sc.fetchQuestions(ctx, count, category)
	if err != nil {
		sc.sessions.Release(ctx, groupID, id)
		sc.metrics.ProviderFailure("questions")
		sc.logger.ErrorContext(ctx, "scheduler: announce aborted",
			slog.String("group", groupID),
			slog.String("session", id),
			slog.Any("error", err),
		)
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	if len(questions) < count {
		sc.logger.WarnContext(ctx, "scheduler: provider returned fewer questions than requested",
			slog.String("group", groupID),
			slog.Int("requested", count),
			slog.Int("received", len(questions)),
		)
	}

	events, err := s.Open(questions)
	if err != nil {
		sc.sessions.Release(ctx, groupID, id)
		return domain.SessionSnapshot{}, err
	}
	sc.logger.InfoContext(ctx, "scheduler: session announced",
		slog.String("group", groupID),
		slog.String("session", id),
		slog.Int("questions", len(questions)),
		slog.String("category", category),
	)
	sc.handleEvents(ctx, s, events)
	return s.Snapshot(), nil
}

func (sc *Scheduler) fetchQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = sc.retryInterval

	var questions []domain.Question
	attempt := 0
	op := func() error {
		attempt++
		qs, err := sc.questions.FetchQuestions(ctx, count, category)
		if err != nil {
			sc.logger.WarnContext(ctx, "scheduler: fetch questions failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return err
		}
		if len(qs) == 0 {
			return errEmptyBatch
		}
		questions = qs
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(exp, sc.fetchRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return questions, nil
}

func (sc *Scheduler) Join(ctx context.Context, groupID string, p domain.Player) error {
	s, err := sc.lookup(groupID)
	if err != nil {
		return err
	}
	events, err := s.Join(p)
	if err != nil {
		return err
	}
	sc.handleEvents(ctx, s, events)
	return nil
}

// Begin freezes the roster and starts the game.
func (sc *Scheduler) Begin(ctx context.Context, groupID string) error {
	s, err := sc.lookup(groupID)
	if err != nil {
		return err
	}
	events, err := s.Begin(sc.now())
	if err != nil {
		return err
	}
	sc.metrics.SessionStarted()
	sc.logger.InfoContext(ctx, "scheduler: game started",
		slog.String("group", groupID),
		slog.String("session", s.ID()),
	)
	sc.handleEvents(ctx, s, events)
	return nil
}

func (sc *Scheduler) Submit(ctx context.Context, groupID, playerID string, index, option int) (SubmitResult, error) {
	s, err := sc.lookup(groupID)
	if err != nil {
		return SubmitResult{}, err
	}
	res, events, err := s.Submit(playerID, index, option, sc.now())
	sc.handleEvents(ctx, s, events)
	if err != nil {
		sc.metrics.Submission(submitErrorLabel(err))
		return SubmitResult{}, err
	}
	if res.Correct {
		sc.metrics.Submission("correct")
	} else {
		sc.metrics.Submission("wrong")
	}
	return res, nil
}

func (sc *Scheduler) ForceAdvance(ctx context.Context, groupID string) error {
	s, err := sc.lookup(groupID)
	if err != nil {
		return err
	}
	events, err := s.ForceAdvance(sc.now())
	if err != nil {
		return err
	}
	sc.handleEvents(ctx, s, events)
	return nil
}

func (sc *Scheduler) ForceEnd(ctx context.Context, groupID string) error {
	s, err := sc.lookup(groupID)
	if err != nil {
		return err
	}
	events, err := s.ForceEnd(sc.now())
	if err != nil {
		return err
	}
	sc.logger.InfoContext(ctx, "scheduler: game force-ended",
		slog.String("group", groupID),
		slog.String("session", s.ID()),
	)
	sc.handleEvents(ctx, s, events)
	return nil
}

func (sc *Scheduler) ResetLeaderboard(ctx context.Context) error {
	if err := sc.leaderboard.Reset(ctx); err != nil {
		return fmt.Errorf("reset leaderboard: %w", err)
	}
	sc.logger.WarnContext(ctx, "scheduler: all-time leaderboard reset")
	return nil
}

// Standings returns the live standings of the group's session, or the final
// standings of its last game when none is active.
func (sc *Scheduler) Standings(groupID string) (domain.SessionSnapshot, error) {
	if s, ok := sc.sessions.Get(groupID); ok {
		return s.Snapshot(), nil
	}

	sc.mu.Lock()
	res, ok := sc.lastResults[groupID]
	sc.mu.Unlock()
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return domain.SessionSnapshot{
		SessionID:      res.SessionID,
		GroupID:        res.GroupID,
		Phase:          string(PhaseEnded),
		Question:       res.QuestionsPlayed - 1,
		TotalQuestions: res.TotalQuestions,
		Roster:         len(res.Standings),
		Standings:      res.Standings,
	}, nil
}

func (sc *Scheduler) Roster(groupID string) ([]domain.Player, error) {
	s, err := sc.lookup(groupID)
	if err != nil {
		return nil, err
	}
	return s.Roster(), nil
}

// Ranking returns the top limit all-time entries. Players who never scored
// are left out.
func (sc *Scheduler) Ranking(limit int) []domain.LeaderboardEntry {
	if limit <= 0 {
		limit = defaultRankingLimit
	}
	entries := make([]domain.LeaderboardEntry, 0, limit)
	for e := range sc.leaderboard.Ranking() {
		if e.TotalPoints <= 0 {
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries
}

// Run ticks every active session until ctx is cancelled.
func (sc *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.tickInterval)
	defer ticker.Stop()

	sc.logger.InfoContext(ctx, "scheduler: running", slog.Duration("tick", sc.tickInterval))
	for {
		select {
		case <-ctx.Done():
			sc.wg.Wait()
			sc.flushPending(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			sc.Tick(ctx)
		}
	}
}

// Tick advances every registered session to the current time and retries
// leaderboard merges that failed earlier. Persistence runs in the background,
// so a slow store never holds up question deadlines.
func (sc *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	sc.retryPending(ctx)

	sessions := sc.sessions.List()
	now := sc.now()
	for _, s := range sessions {
		sc.tickSession(ctx, s, now)
	}

	sc.metrics.SetSessionsActive(len(sc.sessions.List()))
	sc.metrics.ObserveTick(time.Since(start))
}

// Wait blocks until in-flight explanations and persistence finish and every
// event queued so far has been handed to the publisher.
func (sc *Scheduler) Wait() {
	sc.wg.Wait()

	done := make(chan struct{})
	sc.closeMu.RLock()
	if sc.closed {
		sc.closeMu.RUnlock()
		return
	}
	sc.outbox <- outboxItem{done: done}
	sc.closeMu.RUnlock()
	<-done
}

// Close waits for background work, drains the event queue and stops the
// dispatcher. Events emitted after Close are dropped.
func (sc *Scheduler) Close() {
	sc.wg.Wait()

	sc.closeMu.Lock()
	if !sc.closed {
		sc.closed = true
		close(sc.outbox)
	}
	sc.closeMu.Unlock()
	<-sc.dispatched
}

func (sc *Scheduler) tickSession(ctx context.Context, s *Session, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.ErrorContext(ctx, "scheduler: session tick panic",
				slog.String("group", s.GroupID()),
				slog.String("session", s.ID()),
				slog.Any("error", fmt.Errorf("%v, stack: %s", r, debug.Stack())),
			)
		}
	}()

	if s.Phase() == PhaseEnded {
		// ended but never finalized, e.g. a panic interrupted a previous tick
		if res, ok := s.Result(); ok {
			sc.finalize(ctx, s, res)
		}
		return
	}
	sc.handleEvents(ctx, s, s.Advance(now))
}

func (sc *Scheduler) lookup(groupID string) (*Session, error) {
	s, ok := sc.sessions.Get(groupID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (sc *Scheduler) handleEvents(ctx context.Context, s *Session, events []domain.Event) {
	for _, e := range events {
		switch ev := e.(type) {
		case domain.EventQuestionClosed:
			sc.metrics.QuestionClosed(string(ev.Reason))
			sc.requestExplanation(ctx, s, ev)
		case domain.EventGameEnded:
			sc.metrics.SessionEnded(ev.Result.Forced)
			sc.finalize(ctx, s, ev.Result)
		}
	}
}

type outboxItem struct {
	event domain.Event
	// done marks a barrier; it is closed once everything before it is published.
	done chan struct{}
}

// enqueue is the session event sink. It runs under the session lock and
// never blocks: when the dispatcher falls behind, events are dropped.
func (sc *Scheduler) enqueue(events []domain.Event) {
	sc.closeMu.RLock()
	defer sc.closeMu.RUnlock()

	for _, e := range events {
		if sc.closed {
			sc.logger.Warn("scheduler: dropping event after close",
				slog.String("event", e.Name()),
				slog.String("group", e.Group()),
			)
			continue
		}
		select {
		case sc.outbox <- outboxItem{event: e}:
		default:
			sc.metrics.EventDropped()
			sc.logger.Error("scheduler: event queue full, dropping event",
				slog.String("event", e.Name()),
				slog.String("group", e.Group()),
				slog.Int("capacity", cap(sc.outbox)),
			)
		}
	}
}

func (sc *Scheduler) dispatch() {
	defer close(sc.dispatched)

	for item := range sc.outbox {
		if item.done != nil {
			close(item.done)
			continue
		}
		sc.publish(item.event)
	}
}

func (sc *Scheduler) publish(e domain.Event) {
	if sc.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer func() {
		if r := recover(); r != nil {
			sc.logger.ErrorContext(ctx, "scheduler: publish panic",
				slog.String("event", e.Name()),
				slog.Any("error", fmt.Errorf("%v, stack: %s", r, debug.Stack())),
			)
		}
		cancel()
	}()

	if err := sc.publisher.Publish(ctx, e); err != nil {
		sc.logger.WarnContext(ctx, "scheduler: publish event failed",
			slog.String("event", e.Name()),
			slog.String("group", e.Group()),
			slog.Any("error", err),
		)
	}
}

func (sc *Scheduler) requestExplanation(ctx context.Context, s *Session, ev domain.EventQuestionClosed) {
	if sc.explainer == nil {
		return
	}

	sc.wg.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.explainTimeout)
		defer func() {
			if r := recover(); r != nil {
				sc.logger.ErrorContext(ctx, "scheduler: explanation panic",
					slog.Any("error", fmt.Errorf("%v, stack: %s", r, debug.Stack())),
				)
			}
			cancel()
			sc.wg.Done()
		}()

		out := domain.EventExplanationReady{
			GroupID:   ev.GroupID,
			SessionID: ev.SessionID,
			Index:     ev.Index,
		}
		text, err := sc.explainer.Explain(ctx, ev.Question, ev.CorrectAnswer)
		if err != nil || text == "" {
			sc.metrics.Explanation("unavailable")
			sc.logger.WarnContext(ctx, "scheduler: explanation unavailable",
				slog.String("session", ev.SessionID),
				slog.Int("question", ev.Index),
				slog.Any("error", err),
			)
		} else {
			sc.metrics.Explanation("ok")
			s.AttachExplanation(ev.Index, text)
			out.Text = text
			out.Available = true
		}
		sc.enqueue([]domain.Event{out})
	}()
}

func (sc *Scheduler) finalize(ctx context.Context, s *Session, res domain.GameResult) {
	sc.mu.Lock()
	sc.lastResults[res.GroupID] = res
	if res.Started {
		sc.pending[res.SessionID] = res
	}
	sc.mu.Unlock()

	sc.sessions.Release(ctx, res.GroupID, s.ID())
	sc.logger.InfoContext(ctx, "scheduler: game ended",
		slog.String("group", res.GroupID),
		slog.String("session", res.SessionID),
		slog.Bool("forced", res.Forced),
		slog.Int("questions_played", res.QuestionsPlayed),
		slog.Int("players", len(res.Standings)),
	)
	if !res.Started {
		return
	}

	sc.wg.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.persistTimeout)
		defer func() {
			if r := recover(); r != nil {
				sc.logger.ErrorContext(ctx, "scheduler: persist panic",
					slog.String("session", res.SessionID),
					slog.Any("error", fmt.Errorf("%v, stack: %s", r, debug.Stack())),
				)
			}
			cancel()
			sc.wg.Done()
		}()

		sc.flushPending(ctx)
		if sc.archive != nil {
			if err := sc.archive.ArchiveGame(ctx, res); err != nil {
				sc.logger.ErrorContext(ctx, "scheduler: archive game failed",
					slog.String("session", res.SessionID),
					slog.Any("error", err),
				)
			}
		}
	}()
}

// retryPending flushes leftover merges in the background unless a flush is
// already running.
func (sc *Scheduler) retryPending(ctx context.Context) {
	sc.mu.Lock()
	n := len(sc.pending)
	sc.mu.Unlock()
	if n == 0 || !sc.flushMu.TryLock() {
		return
	}

	sc.wg.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.persistTimeout)
		defer func() {
			cancel()
			sc.flushMu.Unlock()
			sc.wg.Done()
		}()
		sc.flushPendingLocked(ctx)
	}()
}

// flushPending merges finished games into the leaderboard. Failed merges stay
// pending for the next tick; the store ignores results it already applied.
func (sc *Scheduler) flushPending(ctx context.Context) {
	sc.flushMu.Lock()
	defer sc.flushMu.Unlock()
	sc.flushPendingLocked(ctx)
}

func (sc *Scheduler) flushPendingLocked(ctx context.Context) {
	sc.mu.Lock()
	results := make([]domain.GameResult, 0, len(sc.pending))
	for _, res := range sc.pending {
		results = append(results, res)
	}
	sc.mu.Unlock()

	for _, res := range results {
		applied, err := sc.leaderboard.MergeGameResult(ctx, res)
		if err != nil {
			sc.metrics.LeaderboardMerge("error")
			sc.logger.ErrorContext(ctx, "scheduler: leaderboard merge failed",
				slog.String("session", res.SessionID),
				slog.Any("error", err),
			)
			continue
		}
		if applied {
			sc.metrics.LeaderboardMerge("applied")
		} else {
			sc.metrics.LeaderboardMerge("duplicate")
		}

		sc.mu.Lock()
		delete(sc.pending, res.SessionID)
		sc.mu.Unlock()
	}
}

func submitErrorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotOpen):
		return "not_open"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, domain.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, domain.ErrInvalidOption):
		return "invalid_option"
	default:
		return "error"
	}
}
