package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"trivia-service/internal/domain"
)

const (
	CodeWrongState      = "wrong_state"
	CodeAlreadyJoined   = "already_joined"
	CodeNotJoined       = "not_joined"
	CodeNotOpen         = "too_late"
	CodeDuplicate       = "duplicate_submission"
	CodeInvalidOption   = "invalid_option"
	CodeNoPlayers       = "no_players"
	CodeSessionActive   = "session_already_active"
	CodeSessionNotFound = "session_not_found"
	CodeProviderDown    = "provider_unavailable"
	CodeForbidden       = "forbidden"
	CodeInvalidRequest  = "invalid_request"
	CodeUnsupportedType = "unsupported_message_type"
	CodeInternal        = "internal_error"
)

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrWrongState, CodeWrongState, http.StatusConflict},
	{domain.ErrAlreadyJoined, CodeAlreadyJoined, http.StatusConflict},
	{domain.ErrNotJoined, CodeNotJoined, http.StatusForbidden},
	{domain.ErrNotOpen, CodeNotOpen, http.StatusConflict},
	{domain.ErrDuplicateSubmission, CodeDuplicate, http.StatusConflict},
	{domain.ErrInvalidOption, CodeInvalidOption, http.StatusBadRequest},
	{domain.ErrNoPlayers, CodeNoPlayers, http.StatusConflict},
	{domain.ErrSessionAlreadyActive, CodeSessionActive, http.StatusConflict},
	{domain.ErrSessionNotFound, CodeSessionNotFound, http.StatusNotFound},
	{domain.ErrProviderUnavailable, CodeProviderDown, http.StatusBadGateway},
}

// ErrorCode maps a core error to the code shown to users, with the matching HTTP status.
func ErrorCode(err error) (string, int) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, status := ErrorCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorPayload{Code: code, Message: msg})
}
