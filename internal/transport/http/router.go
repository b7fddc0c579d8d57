package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"trivia-service/internal/domain"
)

const (
	defaultRankingLimit = 10
	defaultHistoryLimit = 20
	maxListLimit        = 100
)

// GameHistory lists archived games of a group, newest first.
type GameHistory interface {
	RecentGames(ctx context.Context, groupID string, limit int) ([]domain.GameResult, error)
}

// RouterConfig holds the dependencies of the HTTP surface.
type RouterConfig struct {
	Logger  *slog.Logger
	Game    Game
	WS      *WSHandler
	History GameHistory
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the websocket endpoint, the read-only REST queries and the
// operational endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &queryHandler{game: cfg.Game, history: cfg.History}

	r := mux.NewRouter()
	r.Use(recovery(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.WS != nil {
		r.HandleFunc("/ws", cfg.WS.ServeWS)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(logging(logger))
	api.HandleFunc("/leaderboard", h.ranking).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/standings", h.standings).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/roster", h.roster).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/history", h.recentGames).Methods(http.MethodGet)

	return r
}

type queryHandler struct {
	game    Game
	history GameHistory
}

func (h *queryHandler) ranking(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultRankingLimit)
	writeJSON(w, http.StatusOK, h.game.Ranking(limit))
}

func (h *queryHandler) standings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.game.Standings(mux.Vars(r)["groupId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *queryHandler) roster(w http.ResponseWriter, r *http.Request) {
	players, err := h.game.Roster(mux.Vars(r)["groupId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (h *queryHandler) recentGames(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, []domain.GameResult{})
		return
	}
	games, err := h.history.RecentGames(r.Context(), mux.Vars(r)["groupId"], limitParam(r, defaultHistoryLimit))
	if err != nil {
		writeError(w, err)
		return
	}
	if games == nil {
		games = []domain.GameResult{}
	}
	writeJSON(w, http.StatusOK, games)
}

// limitParam reads ?limit=, falling back to def for missing or invalid values.
func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func logging(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recovery(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
						slog.String("path", r.URL.Path),
					)
					writeJSON(w, http.StatusInternalServerError, errorPayload{Code: CodeInternal, Message: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
