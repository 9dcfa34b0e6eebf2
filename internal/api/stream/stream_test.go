package stream_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/api/stream"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/eventbus"
	"github.com/gosuda/boardsync/internal/realtime"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type mockAccess struct {
	accessFunc func(ctx context.Context, boardID string, id domain.Identity) (domain.AccessResult, bool, error)
}

func (m *mockAccess) Access(ctx context.Context, boardID string, id domain.Identity) (domain.AccessResult, bool, error) {
	return m.accessFunc(ctx, boardID, id)
}

func allowAll() *mockAccess {
	return &mockAccess{accessFunc: func(_ context.Context, _ string, _ domain.Identity) (domain.AccessResult, bool, error) {
		return domain.AccessResult{}, false, nil
	}}
}

// withUser stands in for the Auth middleware. Requests carrying X-Test-User
// are authenticated as that user.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid := r.Header.Get("X-Test-User"); uid != "" {
			r = r.WithContext(middleware.WithIdentity(r.Context(), domain.Identity{UserID: uid}))
		}
		next.ServeHTTP(w, r)
	})
}

func newServer(t *testing.T, bus *eventbus.Bus, access stream.AccessChecker, opts stream.Options) *httptest.Server {
	t.Helper()

	h := stream.NewHandler(bus, access, opts)
	r := chi.NewRouter()
	r.Use(withUser)
	r.Route("/api/v1", h.Routes)
	r.Route("/ws", h.WSRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type sseFrame struct {
	comment string
	event   string
	data    string
}

type sseReader struct {
	sc *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) sseFrame {
	t.Helper()
	var f sseFrame
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			return f
		case strings.HasPrefix(line, ":"):
			f.comment = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, r.sc.Err())
	t.Fatal("stream ended")
	return f
}

func openSSE(t *testing.T, ctx context.Context, srv *httptest.Server, boardID, clientID, user string) (*http.Response, *sseReader) {
	t.Helper()

	url := srv.URL + "/api/v1/boards/" + boardID + "/events"
	if clientID != "" {
		url += "?clientId=" + clientID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, &sseReader{sc: bufio.NewScanner(resp.Body)}
}

func waitSubscribers(t *testing.T, bus *eventbus.Bus, boardID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.SubscriberCount(boardID) == n }, 2*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// SSE
// ---------------------------------------------------------------------------

func TestServeSSE_Stream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()
	srv := newServer(t, bus, allowAll(), stream.Options{})

	resp, c1 := openSSE(t, ctx, srv, "b1", "c1", "u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	f := c1.next(t)
	assert.Equal(t, eventbus.EventConnected, f.event)
	assert.JSONEq(t, `{"clientId":"c1","boardId":"b1"}`, f.data)

	_, c2 := openSSE(t, ctx, srv, "b1", "c2", "u2")
	assert.Equal(t, eventbus.EventConnected, c2.next(t).event)
	waitSubscribers(t, bus, "b1", 2)

	// Saved by c1: only c2 hears about it.
	require.NoError(t, bus.Broadcast("b1", "c1", eventbus.EventBoardUpdated, map[string]int{"version": 3}))
	// Deleted: everyone hears about it.
	require.NoError(t, bus.Broadcast("b1", eventbus.NoSender, eventbus.EventBoardDeleted, map[string]string{"id": "b1"}))

	f = c2.next(t)
	assert.Equal(t, eventbus.EventBoardUpdated, f.event)
	assert.JSONEq(t, `{"version":3}`, f.data)
	assert.Equal(t, eventbus.EventBoardDeleted, c2.next(t).event)

	f = c1.next(t)
	assert.Equal(t, eventbus.EventBoardDeleted, f.event, "sender must not receive its own update")
	assert.JSONEq(t, `{"id":"b1"}`, f.data)

	cancel()
	waitSubscribers(t, bus, "b1", 0)
}

func TestServeSSE_DefaultClientID(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newServer(t, eventbus.New(), allowAll(), stream.Options{})
	_, r := openSSE(t, ctx, srv, "b1", "", "u1")

	var payload struct {
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.next(t).data), &payload))
	assert.Equal(t, stream.AnonymousClient, payload.ClientID)
}

func TestServeSSE_Heartbeat(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newServer(t, eventbus.New(), allowAll(), stream.Options{
		Session: realtime.Options{Heartbeat: 20 * time.Millisecond},
	})
	_, r := openSSE(t, ctx, srv, "b1", "c1", "u1")

	assert.Equal(t, eventbus.EventConnected, r.next(t).event)
	f := r.next(t)
	assert.Equal(t, "ping", f.comment)
	assert.Empty(t, f.event, "heartbeats are not named events")
}

func TestServeSSE_Authorization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		user     string
		access   *mockAccess
		wantCode int
	}{
		{
			name:     "unauthenticated",
			access:   allowAll(),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "not an editor",
			user: "u3",
			access: &mockAccess{accessFunc: func(_ context.Context, _ string, _ domain.Identity) (domain.AccessResult, bool, error) {
				return domain.AccessResult{Authorized: false}, true, nil
			}},
			wantCode: http.StatusForbidden,
		},
		{
			name: "store failure",
			user: "u1",
			access: &mockAccess{accessFunc: func(_ context.Context, _ string, _ domain.Identity) (domain.AccessResult, bool, error) {
				return domain.AccessResult{}, false, errors.New("db down")
			}},
			wantCode: http.StatusInternalServerError,
		},
		{
			name: "editor",
			user: "u2",
			access: &mockAccess{accessFunc: func(_ context.Context, boardID string, id domain.Identity) (domain.AccessResult, bool, error) {
				assert.Equal(t, "b1", boardID)
				assert.Equal(t, "u2", id.UserID)
				return domain.AccessResult{Authorized: true}, true, nil
			}},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			bus := eventbus.New()
			srv := newServer(t, bus, tt.access, stream.Options{})
			resp, _ := openSSE(t, ctx, srv, "b1", "c1", tt.user)

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				assert.Zero(t, bus.SubscriberCount("b1"), "no stream may be opened")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server, boardID, clientID, user string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/boards/" + boardID + "?clientId=" + clientID
	header := http.Header{}
	if user != "" {
		header.Set("X-Test-User", user)
	}
	return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
}

func readWS(t *testing.T, ctx context.Context, conn *websocket.Conn) (name string, data json.RawMessage) {
	t.Helper()

	typ, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &frame))
	return frame.Event, frame.Data
}

func TestServeWS_Stream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := eventbus.New()
	srv := newServer(t, bus, allowAll(), stream.Options{})

	conn, _, err := dialWS(t, ctx, srv, "b1", "c1", "u1")
	require.NoError(t, err)
	defer conn.CloseNow()

	name, data := readWS(t, ctx, conn)
	assert.Equal(t, eventbus.EventConnected, name)
	assert.JSONEq(t, `{"clientId":"c1","boardId":"b1"}`, string(data))

	waitSubscribers(t, bus, "b1", 1)
	require.NoError(t, bus.Broadcast("b1", "c1", eventbus.EventBoardUpdated, map[string]int{"version": 2}))
	require.NoError(t, bus.Broadcast("b1", "c9", eventbus.EventBoardUpdated, map[string]int{"version": 3}))

	name, data = readWS(t, ctx, conn)
	assert.Equal(t, eventbus.EventBoardUpdated, name)
	assert.JSONEq(t, `{"version":3}`, string(data), "own update is skipped")

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitSubscribers(t, bus, "b1", 0)
}

func TestServeWS_Forbidden(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := newServer(t, eventbus.New(), &mockAccess{
		accessFunc: func(_ context.Context, _ string, _ domain.Identity) (domain.AccessResult, bool, error) {
			return domain.AccessResult{}, true, nil
		},
	}, stream.Options{})

	_, resp, err := dialWS(t, ctx, srv, "b1", "c1", "u3")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
