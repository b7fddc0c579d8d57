package domain

import "time"

const (
	EventNameSessionAnnounced   = "session.announced"
	EventNamePlayerJoined       = "player.joined"
	EventNameGameStarted        = "game.started"
	EventNameQuestionPublished  = "question.published"
	EventNameSubmissionAccepted = "submission.accepted"
	EventNameQuestionClosed     = "question.closed"
	EventNameExplanationReady   = "question.explained"
	EventNameGameEnded          = "game.ended"
)

// Event is emitted by a session for the transport layer to render.
type Event interface {
	Name() string
	Group() string
}

// CloseReason tells why a question stopped accepting answers.
type CloseReason string

const (
	CloseAllAnswered CloseReason = "all_answered"
	CloseTimeout     CloseReason = "timeout"
	CloseForced      CloseReason = "forced"
)

type EventSessionAnnounced struct {
	GroupID   string `json:"groupId"`
	SessionID string `json:"sessionId"`
	Questions int    `json:"questions"`
	Category  string `json:"category,omitempty"`
}

func (EventSessionAnnounced) Name() string { return EventNameSessionAnnounced }
func (e EventSessionAnnounced) Group() string { return e.GroupID }

type EventPlayerJoined struct {
	GroupID   string `json:"groupId"`
	SessionID string `json:"sessionId"`
	Player    Player `json:"player"`
	Roster    int    `json:"roster"`
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }
func (e EventPlayerJoined) Group() string { return e.GroupID }

type EventGameStarted struct {
	GroupID         string    `json:"groupId"`
	SessionID       string    `json:"sessionId"`
	Players         []Player  `json:"players"`
	Questions       int       `json:"questions"`
	FirstQuestionAt time.Time `json:"firstQuestionAt"`
}

func (EventGameStarted) Name() string { return EventNameGameStarted }
func (e EventGameStarted) Group() string { return e.GroupID }

// EventQuestionPublished carries the question without its answer.
type EventQuestionPublished struct {
	GroupID    string    `json:"groupId"`
	SessionID  string    `json:"sessionId"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Text       string    `json:"text"`
	Options    []string  `json:"options"`
	Category   string    `json:"category,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Deadline   time.Time `json:"deadline"`
}

func (EventQuestionPublished) Name() string { return EventNameQuestionPublished }
func (e EventQuestionPublished) Group() string { return e.GroupID }

// EventSubmissionAccepted tells the group that a player answered. The choice
// and its outcome stay private until the question closes.
type EventSubmissionAccepted struct {
	GroupID   string `json:"groupId"`
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Player    Player `json:"player"`
	Answered  int    `json:"answered"`
	Roster    int    `json:"roster"`
}

func (EventSubmissionAccepted) Name() string { return EventNameSubmissionAccepted }
func (e EventSubmissionAccepted) Group() string { return e.GroupID }

type EventQuestionClosed struct {
	GroupID       string      `json:"groupId"`
	SessionID     string      `json:"sessionId"`
	Index         int         `json:"index"`
	Reason        CloseReason `json:"reason"`
	Question      Question    `json:"question"`
	CorrectAnswer string      `json:"correctAnswer"`
	Answered      int         `json:"answered"`
	CorrectCount  int         `json:"correctCount"`
	Roster        int         `json:"roster"`
	Last          bool        `json:"last"`
	NextAt        time.Time   `json:"nextAt"`
	// Submissions lists every answer to the question in roster order.
	Submissions []Submission `json:"submissions"`
}

func (EventQuestionClosed) Name() string { return EventNameQuestionClosed }
func (e EventQuestionClosed) Group() string { return e.GroupID }

// EventExplanationReady carries AI commentary for a closed question. Available
// is false when the explanation could not be produced.
type EventExplanationReady struct {
	GroupID   string `json:"groupId"`
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Text      string `json:"text,omitempty"`
	Available bool   `json:"available"`
}

func (EventExplanationReady) Name() string { return EventNameExplanationReady }
func (e EventExplanationReady) Group() string { return e.GroupID }

type EventGameEnded struct {
	GroupID string     `json:"groupId"`
	Result  GameResult `json:"result"`
}

func (EventGameEnded) Name() string { return EventNameGameEnded }
func (e EventGameEnded) Group() string { return e.GroupID }
