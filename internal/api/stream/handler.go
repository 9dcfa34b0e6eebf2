// Package stream serves live board event streams over Server-Sent Events and
// WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// AnonymousClient is the client id used when the caller does not send one.
const AnonymousClient = "anonymous"

// AccessChecker reports the caller's access to a stored board. ok is false
// when there is no readable board to protect. *board.Service satisfies it.
type AccessChecker interface {
	Access(ctx context.Context, boardID string, id domain.Identity) (res domain.AccessResult, ok bool, err error)
}

type Options struct {
	Session realtime.Options
	// OriginPatterns are the hosts allowed to open WebSocket connections
	// from another origin.
	OriginPatterns []string
}

// Handler opens one realtime.Session per stream request.
type Handler struct {
	bus    realtime.Subscriber
	access AccessChecker
	opts   Options
}

func NewHandler(bus realtime.Subscriber, access AccessChecker, opts Options) *Handler {
	return &Handler{bus: bus, access: access, opts: opts}
}

// Routes mounts the SSE endpoint. Paths are relative to the /api/v1 group.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/boards/{boardID}/events", h.ServeSSE)
}

// WSRoutes mounts the WebSocket endpoint. Paths are relative to /ws.
func (h *Handler) WSRoutes(r chi.Router) {
	r.Get("/boards/{boardID}", h.ServeWS)
}

// authorize checks the caller before any stream is opened. An absent or
// unreadable board is open to any authenticated caller.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (boardID, clientID string, ok bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "not authenticated")
		return "", "", false
	}

	boardID = chi.URLParam(r, "boardID")
	if boardID == "" {
		writeProblem(w, http.StatusBadRequest, "missing board id")
		return "", "", false
	}

	res, exists, err := h.access.Access(r.Context(), boardID, id)
	if err != nil {
		log.Error().Err(err).Str("board_id", boardID).Msg("stream: access check failed")
		writeProblem(w, http.StatusInternalServerError, "internal server error")
		return "", "", false
	}
	if exists && !res.Authorized {
		writeProblem(w, http.StatusForbidden, "access denied")
		return "", "", false
	}

	clientID = r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = AnonymousClient
	}
	return boardID, clientID, true
}

func (h *Handler) run(ctx context.Context, s *realtime.Session, transport, boardID, clientID string) error {
	defer s.Close()

	log.Debug().Str("board_id", boardID).Str("client_id", clientID).Str("transport", transport).Msg("stream: opened")

	err := s.Run(ctx)
	switch {
	case err == nil:
		log.Debug().Str("board_id", boardID).Str("client_id", clientID).Msg("stream: closed")
	case errors.Is(err, realtime.ErrSlowSubscriber):
		log.Warn().Str("board_id", boardID).Str("client_id", clientID).Msg("stream: evicted slow subscriber")
	default:
		log.Debug().Err(err).Str("board_id", boardID).Str("client_id", clientID).Msg("stream: write failed")
	}
	return err
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Title: http.StatusText(status), Status: status, Detail: detail})
}
