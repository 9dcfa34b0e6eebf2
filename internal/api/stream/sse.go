package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/eventbus"
	"github.com/gosuda/boardsync/internal/realtime"
)

type sseTransport struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (t *sseTransport) Send(_ context.Context, ev eventbus.Event) error {
	return t.write(ev.SSE())
}

func (t *sseTransport) Heartbeat(_ context.Context) error {
	return t.write(eventbus.Heartbeat)
}

func (t *sseTransport) write(frame []byte) error {
	if _, err := t.w.Write(frame); err != nil {
		return fmt.Errorf("sse write: %w", err)
	}
	if err := t.rc.Flush(); err != nil {
		return fmt.Errorf("sse flush: %w", err)
	}
	return nil
}

// ServeSSE streams a board's events as text/event-stream until the client
// disconnects.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	boardID, clientID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn().Err(err).Msg("stream: clear write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	t := &sseTransport{w: w, rc: rc}
	s := realtime.NewSession(boardID, clientID, h.bus, t, h.opts.Session)
	_ = h.run(r.Context(), s, "sse", boardID, clientID)
}
