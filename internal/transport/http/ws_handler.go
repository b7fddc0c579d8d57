package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"trivia-service/internal/app"
	"trivia-service/internal/domain"
)

// Game is the command surface the transport drives.
type Game interface {
	Announce(ctx context.Context, groupID string, opts app.AnnounceOptions) (domain.SessionSnapshot, error)
	Join(ctx context.Context, groupID string, p domain.Player) error
	Begin(ctx context.Context, groupID string) error
	Submit(ctx context.Context, groupID, playerID string, index, option int) (app.SubmitResult, error)
	ForceAdvance(ctx context.Context, groupID string) error
	ForceEnd(ctx context.Context, groupID string) error
	ResetLeaderboard(ctx context.Context) error
	Standings(groupID string) (domain.SessionSnapshot, error)
	Roster(groupID string) ([]domain.Player, error)
	Ranking(limit int) []domain.LeaderboardEntry
}

var errForbidden = errors.New("admin privileges required")

// adminCommands may only be sent by connections holding the admin token.
var adminCommands = map[string]bool{
	"announce": true,
	"begin":    true,
	"next":     true,
	"end":      true,
	"reset":    true,
}

type WSHandler struct {
	game       Game
	hub        *Hub
	adminToken string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(game Game, hub *Hub, adminToken string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		game:       game,
		hub:        hub,
		adminToken: adminToken,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type welcomePayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Admin   bool   `json:"admin"`
}

type announcePayload struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type answerPayload struct {
	Question int `json:"question"`
	Option   int `json:"option"`
}

type rankingPayload struct {
	Limit int `json:"limit"`
}

type answerResult struct {
	Question    int   `json:"question"`
	Correct     bool  `json:"correct"`
	Points      int   `json:"points"`
	Bonus       int   `json:"bonus"`
	ElapsedMs   int64 `json:"elapsedMs"`
	AllAnswered bool  `json:"allAnswered"`
}

type ackPayload struct {
	Command string `json:"command"`
}

type commandError struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets, streams the group's events to
// the connection and turns inbound messages into game commands.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupID := q.Get("groupId")
	userID := q.Get("userId")
	displayName := q.Get("name")
	if groupID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing groupId, userId, or name", http.StatusBadRequest)
		return
	}
	admin := h.isAdmin(q.Get("token"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	c := &client{
		groupID: groupID,
		userID:  userID,
		send:    make(chan outboundMessage[any], sendBuffer),
	}
	h.hub.register(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws: write failed", slog.String("user", userID), slog.Any("error", err))
				_ = conn.Close()
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case c.send <- msg:
		case <-writerDone:
		}
	}

	reply(outboundMessage[any]{Type: "welcome", Payload: welcomePayload{GroupID: groupID, UserID: userID, Admin: admin}})

	player := domain.Player{ID: userID, DisplayName: displayName}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		reply(h.dispatch(r.Context(), groupID, player, admin, inbound))
	}

	h.hub.unregister(c)
	close(c.send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, groupID string, player domain.Player, admin bool, in inboundMessage) outboundMessage[any] {
	if adminCommands[in.Type] && !admin {
		return h.fail(in.Type, CodeForbidden, errForbidden)
	}

	ack := outboundMessage[any]{Type: "ok", Payload: ackPayload{Command: in.Type}}
	switch in.Type {
	case "announce":
		var p announcePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return h.fail(in.Type, CodeInvalidRequest, err)
		}
		snap, err := h.game.Announce(ctx, groupID, app.AnnounceOptions{Category: p.Category, Count: p.Count})
		if err != nil {
			return h.failErr(in.Type, err)
		}
		return outboundMessage[any]{Type: "standings", Payload: snap}

	case "join":
		if err := h.game.Join(ctx, groupID, player); err != nil {
			return h.failErr(in.Type, err)
		}
		return ack

	case "begin":
		if err := h.game.Begin(ctx, groupID); err != nil {
			return h.failErr(in.Type, err)
		}
		return ack

	case "next":
		if err := h.game.ForceAdvance(ctx, groupID); err != nil {
			return h.failErr(in.Type, err)
		}
		return ack

	case "end":
		if err := h.game.ForceEnd(ctx, groupID); err != nil {
			return h.failErr(in.Type, err)
		}
		return ack

	case "reset":
		if err := h.game.ResetLeaderboard(ctx); err != nil {
			return h.failErr(in.Type, err)
		}
		return ack

	case "answer":
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return h.fail(in.Type, CodeInvalidRequest, err)
		}
		res, err := h.game.Submit(ctx, groupID, player.ID, p.Question, p.Option)
		if err != nil {
			return h.failErr(in.Type, err)
		}
		return outboundMessage[any]{Type: "answerResult", Payload: answerResult{
			Question:    p.Question,
			Correct:     res.Correct,
			Points:      res.Points,
			Bonus:       res.Bonus,
			ElapsedMs:   res.Elapsed.Milliseconds(),
			AllAnswered: res.AllAnswered,
		}}

	case "standings":
		snap, err := h.game.Standings(groupID)
		if err != nil {
			return h.failErr(in.Type, err)
		}
		return outboundMessage[any]{Type: "standings", Payload: snap}

	case "roster":
		players, err := h.game.Roster(groupID)
		if err != nil {
			return h.failErr(in.Type, err)
		}
		return outboundMessage[any]{Type: "roster", Payload: players}

	case "ranking":
		var p rankingPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return h.fail(in.Type, CodeInvalidRequest, err)
		}
		return outboundMessage[any]{Type: "ranking", Payload: h.game.Ranking(p.Limit)}

	default:
		return h.fail(in.Type, CodeUnsupportedType, errors.New("unsupported message type"))
	}
}

func (h *WSHandler) failErr(command string, err error) outboundMessage[any] {
	code, status := ErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("ws: command failed", slog.String("command", command), slog.Any("error", err))
	}
	return h.fail(command, code, err)
}

func (h *WSHandler) fail(command, code string, err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: commandError{
		Command: command,
		Code:    code,
		Message: err.Error(),
	}}
}

func (h *WSHandler) isAdmin(token string) bool {
	if h.adminToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

// decodePayload accepts a missing payload as the zero value.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
