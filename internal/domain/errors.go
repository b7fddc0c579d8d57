package domain

import "errors"

var (
	// ErrWrongState is returned when an operation is not valid for the session's current phase.
	ErrWrongState = errors.New("operation not allowed in current game state")
	// ErrAlreadyJoined is returned when a player joins the same session twice.
	ErrAlreadyJoined = errors.New("player already joined")
	// ErrNotJoined is returned when a player acts in a session they are not rostered in.
	ErrNotJoined = errors.New("player has not joined the game")
	// ErrNotOpen is returned when an answer arrives for a question that is not open, usually because it is too late.
	ErrNotOpen = errors.New("question is not open for answers")
	// ErrDuplicateSubmission is returned for a second answer from the same player to the same question.
	ErrDuplicateSubmission = errors.New("player already answered this question")
	// ErrInvalidOption is returned when the chosen option does not exist.
	ErrInvalidOption = errors.New("option does not exist")
	// ErrNoPlayers is returned when a game is started with an empty roster.
	ErrNoPlayers = errors.New("no players have joined")
	// ErrSessionAlreadyActive is returned when a group already runs a session.
	ErrSessionAlreadyActive = errors.New("a game is already active for this group")
	// ErrSessionNotFound is returned when a group has no session.
	ErrSessionNotFound = errors.New("no game for this group")
	// ErrProviderUnavailable wraps failures of the content provider or the AI collaborator.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrMalformedQuestion is returned for question records that fail validation.
	ErrMalformedQuestion = errors.New("malformed question")
	// ErrPersistenceCorrupt marks a leaderboard snapshot that could not be read.
	ErrPersistenceCorrupt = errors.New("leaderboard snapshot corrupt")
)
