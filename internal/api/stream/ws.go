package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/eventbus"
	"github.com/gosuda/boardsync/internal/realtime"
)

const wsWriteTimeout = 10 * time.Second

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, ev eventbus.Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := t.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (t *wsTransport) Heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := t.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ws ping: %w", err)
	}
	return nil
}

// ServeWS streams a board's events as JSON text messages
// {"event": name, "data": payload}. Messages from the client are ignored.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	boardID, clientID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// CloseRead services pings and close frames and cancels ctx when the
	// peer goes away.
	ctx := conn.CloseRead(r.Context())

	s := realtime.NewSession(boardID, clientID, h.bus, &wsTransport{conn: conn}, h.opts.Session)
	err = h.run(ctx, s, "ws", boardID, clientID)

	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
	case errors.Is(err, realtime.ErrSlowSubscriber):
		_ = conn.Close(websocket.StatusTryAgainLater, "too slow, reconnect")
	}
}
