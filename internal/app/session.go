package app

import (
	"fmt"
	"sync"
	"time"

	"trivia-service/internal/domain"
)

// Phase is the lifecycle state of a Session.
type Phase string

const (
	PhaseAnnounced      Phase = "announced"       // questions are being fetched
	PhaseOpen           Phase = "open"            // accepting joins
	PhaseStarting       Phase = "starting"        // roster frozen, waiting for the first question
	PhaseQuestionOpen   Phase = "question_open"   // current question accepts answers
	PhaseQuestionClosed Phase = "question_closed" // showing results before the next question
	PhaseEnded          Phase = "ended"
)

// Running reports whether the game has started and not yet ended.
func (p Phase) Running() bool {
	return p == PhaseStarting || p == PhaseQuestionOpen || p == PhaseQuestionClosed
}

// Timing holds the wall-clock schedule of a game.
type Timing struct {
	// QuestionTimeout closes a question that not everyone answered.
	QuestionTimeout time.Duration
	// SettleDelay is the pause between closing a question and opening the next.
	SettleDelay time.Duration
	// LeadIn is the pause between starting the game and the first question.
	LeadIn time.Duration
}

// DefaultTiming returns the standard 60s question window.
func DefaultTiming() Timing {
	return Timing{
		QuestionTimeout: 60 * time.Second,
		SettleDelay:     30 * time.Second,
		LeadIn:          10 * time.Second,
	}
}

// SubmitResult describes an accepted answer.
type SubmitResult struct {
	Correct bool
	Points  int
	Bonus   int
	Elapsed time.Duration
	// AllAnswered is true when this answer completed the roster and closed the question.
	AllAnswered bool
}

type participant struct {
	player   domain.Player
	standing domain.Standing
	streak   int
}

// Session is the state machine of one trivia game in one group. All methods
// are safe for concurrent use; every transition happens under a single mutex
// and time is always supplied by the caller.
type Session struct {
	id        string
	groupID   string
	category  string
	timing    Timing
	createdAt time.Time

	mu           sync.Mutex
	phase        Phase
	questions    []domain.Question
	current      int
	played       int
	openedAt     time.Time
	nextAt       time.Time
	startedAt    time.Time
	participants map[string]*participant
	order        []string
	submissions  map[int]map[string]domain.Submission
	explanations map[int]string
	result       *domain.GameResult
	sink         func([]domain.Event)
}

// NewSession creates a session in the announced phase.
func NewSession(id, groupID, category string, timing Timing, now time.Time) *Session {
	return &Session{
		id:           id,
		groupID:      groupID,
		category:     category,
		timing:       timing,
		createdAt:    now,
		phase:        PhaseAnnounced,
		current:      -1,
		participants: make(map[string]*participant),
		submissions:  make(map[int]map[string]domain.Submission),
		explanations: make(map[int]string),
	}
}

// SetEventSink registers fn to receive every batch of events while the
// session lock is still held, so batches arrive in transition order. fn must
// not block or call back into the session.
func (s *Session) SetEventSink(fn func([]domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = fn
}

func (s *Session) emitLocked(events []domain.Event) {
	if s.sink != nil && len(events) > 0 {
		s.sink(events)
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) GroupID() string { return s.groupID }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Open loads the question batch and starts accepting joins.
func (s *Session) Open(questions []domain.Question) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseAnnounced {
		return nil, domain.ErrWrongState
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("open session: %w: no questions", domain.ErrProviderUnavailable)
	}

	s.questions = append([]domain.Question(nil), questions...)
	s.phase = PhaseOpen
	events := []domain.Event{domain.EventSessionAnnounced{
		GroupID:   s.groupID,
		SessionID: s.id,
		Questions: len(s.questions),
		Category:  s.category,
	}}
	s.emitLocked(events)
	return events, nil
}

// Join adds a player to the roster. Only allowed while the session is open.
func (s *Session) Join(p domain.Player) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		return nil, domain.ErrAlreadyJoined
	}
	if s.phase != PhaseOpen {
		return nil, domain.ErrWrongState
	}

	s.participants[p.ID] = &participant{
		player: p,
		standing: domain.Standing{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
		},
	}
	s.order = append(s.order, p.ID)

	events := []domain.Event{domain.EventPlayerJoined{
		GroupID:   s.groupID,
		SessionID: s.id,
		Player:    p,
		Roster:    len(s.order),
	}}
	s.emitLocked(events)
	return events, nil
}

// Begin freezes the roster and schedules the first question after the lead-in.
func (s *Session) Begin(now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseOpen {
		return nil, domain.ErrWrongState
	}
	if len(s.order) == 0 {
		return nil, domain.ErrNoPlayers
	}

	s.phase = PhaseStarting
	s.startedAt = now
	s.nextAt = now.Add(s.timing.LeadIn)

	events := []domain.Event{domain.EventGameStarted{
		GroupID:         s.groupID,
		SessionID:       s.id,
		Players:         s.rosterLocked(),
		Questions:       len(s.questions),
		FirstQuestionAt: s.nextAt,
	}}
	events = append(events, s.advanceLocked(now)...)
	s.emitLocked(events)
	return events, nil
}

// Submit records a player's answer to the question at index. Due transitions
// are applied first, so an answer arriving after the deadline is rejected with
// ErrNotOpen even if no tick has closed the question yet.
func (s *Session) Submit(playerID string, index, option int, now time.Time) (SubmitResult, []domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, events, err := s.submitLocked(playerID, index, option, now)
	s.emitLocked(events)
	return res, events, err
}

func (s *Session) submitLocked(playerID string, index, option int, now time.Time) (SubmitResult, []domain.Event, error) {
	events := s.advanceLocked(now)

	if s.phase != PhaseQuestionOpen || index != s.current {
		return SubmitResult{}, events, domain.ErrNotOpen
	}
	p, ok := s.participants[playerID]
	if !ok {
		return SubmitResult{}, events, domain.ErrNotJoined
	}
	answers := s.submissions[index]
	if _, dup := answers[playerID]; dup {
		return SubmitResult{}, events, domain.ErrDuplicateSubmission
	}
	q := s.questions[index]
	if option < 0 || option >= len(q.Options) {
		return SubmitResult{}, events, domain.ErrInvalidOption
	}

	elapsed := max(now.Sub(s.openedAt), 0)
	correct := option == q.Correct
	points := Score(correct, elapsed)
	bonus := 0
	if correct {
		bonus = points - BasePoints
	}

	sub := domain.Submission{
		PlayerID: playerID,
		Question: index,
		Option:   option,
		Elapsed:  elapsed,
		Correct:  correct,
		Points:   points,
	}
	answers[playerID] = sub

	st := &p.standing
	st.Answered++
	st.Points += points
	if correct {
		st.Correct++
		st.BasePoints += BasePoints
		st.BonusPoints += bonus
		if bonus > 0 {
			st.FastAnswers++
		}
	}

	res := SubmitResult{
		Correct:     correct,
		Points:      points,
		Bonus:       bonus,
		Elapsed:     elapsed,
		AllAnswered: len(answers) == len(s.order),
	}
	// the group only learns that the player answered, never what
	events = append(events, domain.EventSubmissionAccepted{
		GroupID:   s.groupID,
		SessionID: s.id,
		Index:     index,
		Player:    p.player,
		Answered:  len(answers),
		Roster:    len(s.order),
	})
	if res.AllAnswered {
		events = append(events, s.closeLocked(now, domain.CloseAllAnswered))
	}
	return res, events, nil
}

// Advance performs every transition due at now. It is a no-op when nothing is
// due, including after the session ended.
func (s *Session) Advance(now time.Time) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.advanceLocked(now)
	s.emitLocked(events)
	return events
}

// ForceAdvance closes the open question and moves straight on to the next one,
// or ends the game after the last question.
func (s *Session) ForceAdvance(now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.Event
	switch s.phase {
	case PhaseStarting, PhaseQuestionClosed:
	case PhaseQuestionOpen:
		events = append(events, s.closeLocked(now, domain.CloseForced))
	default:
		return nil, domain.ErrWrongState
	}
	s.nextAt = now
	events = append(events, s.advanceLocked(now)...)
	s.emitLocked(events)
	return events, nil
}

// ForceEnd finalizes the game with whatever has been scored so far.
func (s *Session) ForceEnd(now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEnded {
		return nil, domain.ErrWrongState
	}
	if s.phase == PhaseQuestionOpen {
		// answers already in count towards streaks like any closed question
		s.settleStreaksLocked(s.submissions[s.current])
	}
	events := []domain.Event{s.endLocked(now, true)}
	s.emitLocked(events)
	return events, nil
}

// AttachExplanation stores commentary for a closed question. Returns false if
// the question does not exist.
func (s *Session) AttachExplanation(index int, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.questions) {
		return false
	}
	s.explanations[index] = text
	return true
}

// Explanation returns the commentary attached to a question, if any.
func (s *Session) Explanation(index int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.explanations[index]
	return text, ok
}

// Roster returns the joined players in join order.
func (s *Session) Roster() []domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

// Snapshot returns the current standings. Safe to call in any phase.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.SessionSnapshot{
		SessionID:      s.id,
		GroupID:        s.groupID,
		Phase:          string(s.phase),
		Question:       s.current,
		TotalQuestions: len(s.questions),
		Roster:         len(s.order),
		Standings:      s.standingsLocked(),
	}
	if s.phase == PhaseQuestionOpen {
		snap.Deadline = s.openedAt.Add(s.timing.QuestionTimeout)
	}
	return snap
}

// Result returns the final result once the session has ended.
func (s *Session) Result() (domain.GameResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.GameResult{}, false
	}
	return *s.result, true
}

func (s *Session) advanceLocked(now time.Time) []domain.Event {
	var events []domain.Event
	for {
		switch s.phase {
		case PhaseStarting:
			if now.Before(s.nextAt) {
				return events
			}
			events = append(events, s.openQuestionLocked(0, now))
		case PhaseQuestionOpen:
			deadline := s.openedAt.Add(s.timing.QuestionTimeout)
			if now.Before(deadline) {
				return events
			}
			// the settle delay runs from the deadline, not from the tick that noticed it
			events = append(events, s.closeLocked(deadline, domain.CloseTimeout))
		case PhaseQuestionClosed:
			if now.Before(s.nextAt) {
				return events
			}
			if s.current+1 >= len(s.questions) {
				events = append(events, s.endLocked(now, false))
			} else {
				events = append(events, s.openQuestionLocked(s.current+1, now))
			}
		default:
			return events
		}
	}
}

func (s *Session) openQuestionLocked(index int, now time.Time) domain.Event {
	s.phase = PhaseQuestionOpen
	s.current = index
	s.played++
	s.openedAt = now
	s.submissions[index] = make(map[string]domain.Submission, len(s.order))

	q := s.questions[index]
	return domain.EventQuestionPublished{
		GroupID:    s.groupID,
		SessionID:  s.id,
		Index:      index,
		Total:      len(s.questions),
		Text:       q.Text,
		Options:    append([]string(nil), q.Options...),
		Category:   q.Category,
		Difficulty: q.Difficulty,
		Deadline:   now.Add(s.timing.QuestionTimeout),
	}
}

func (s *Session) closeLocked(now time.Time, reason domain.CloseReason) domain.Event {
	s.phase = PhaseQuestionClosed
	s.nextAt = now.Add(s.timing.SettleDelay)

	answers := s.submissions[s.current]
	correct := s.settleStreaksLocked(answers)

	results := make([]domain.Submission, 0, len(answers))
	for _, id := range s.order {
		if sub, ok := answers[id]; ok {
			results = append(results, sub)
		}
	}

	q := s.questions[s.current]
	return domain.EventQuestionClosed{
		GroupID:       s.groupID,
		SessionID:     s.id,
		Index:         s.current,
		Reason:        reason,
		Question:      q,
		CorrectAnswer: q.CorrectAnswer(),
		Answered:      len(answers),
		CorrectCount:  correct,
		Roster:        len(s.order),
		Last:          s.current+1 >= len(s.questions),
		NextAt:        s.nextAt,
		Submissions:   results,
	}
}

// settleStreaksLocked extends or resets every player's streak with the answers
// to one question and returns how many were correct.
func (s *Session) settleStreaksLocked(answers map[string]domain.Submission) int {
	correct := 0
	for _, id := range s.order {
		p := s.participants[id]
		if sub, ok := answers[id]; ok && sub.Correct {
			correct++
			p.streak++
			p.standing.LongestStreak = max(p.standing.LongestStreak, p.streak)
		} else {
			p.streak = 0
		}
	}
	return correct
}

func (s *Session) endLocked(now time.Time, forced bool) domain.Event {
	s.phase = PhaseEnded
	s.result = &domain.GameResult{
		SessionID:       s.id,
		GroupID:         s.groupID,
		Started:         !s.startedAt.IsZero(),
		Forced:          forced,
		QuestionsPlayed: s.played,
		TotalQuestions:  len(s.questions),
		StartedAt:       s.startedAt,
		EndedAt:         now,
		Standings:       s.standingsLocked(),
	}
	return domain.EventGameEnded{
		GroupID: s.groupID,
		Result:  *s.result,
	}
}

func (s *Session) rosterLocked() []domain.Player {
	players := make([]domain.Player, 0, len(s.order))
	for _, id := range s.order {
		players = append(players, s.participants[id].player)
	}
	return players
}

func (s *Session) standingsLocked() []domain.Standing {
	standings := make([]domain.Standing, 0, len(s.order))
	for _, id := range s.order {
		standings = append(standings, s.participants[id].standing)
	}
	domain.SortStandings(standings)
	return standings
}
