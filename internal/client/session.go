// Package client keeps a local copy of one board in sync with a boardsync
// server over its event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	sse "github.com/tmaxmax/go-sse"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/eventbus"
)

var (
	// ErrBoardDeleted ends Run once the server reports the board deleted.
	ErrBoardDeleted = errors.New("client: board deleted")
	// ErrConflict is returned by Save when the server holds a newer version.
	// The server's document has been adopted by then.
	ErrConflict = errors.New("client: save conflict")
)

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second

	// Full documents travel in a single data line.
	maxFrameSize = 8 << 20
)

type Options struct {
	BaseURL string
	BoardID string
	// Token is sent as a bearer token when set.
	Token      string
	HTTPClient *http.Client

	// OnUpdate receives every document the session adopts. OnDeleted fires
	// once before Run returns ErrBoardDeleted. Both run on the caller of Run
	// or Save and must not block for long.
	OnUpdate  func(*domain.Board)
	OnDeleted func()

	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Session follows one board. Run owns the stream; Save, MarkDirty and the
// accessors may be called from other goroutines.
type Session struct {
	opts     Options
	clientID string
	backoff  *Backoff

	mu      sync.Mutex
	current *domain.Board
	dirty   bool
}

func New(opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Session{
		opts:     opts,
		clientID: "client-" + uuid.NewString(),
		backoff:  NewBackoff(opts.BaseDelay, opts.MaxDelay),
	}
}

// ClientID identifies this session to the server, which uses it to keep the
// session's own saves off its stream.
func (s *Session) ClientID() string { return s.clientID }

// MarkDirty records unsaved local edits. Remote updates are ignored until
// the next Save.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Current returns a copy of the last adopted document, or nil.
func (s *Session) Current() *domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// Run streams the board until ctx ends, the board is deleted or the server
// refuses the caller. Dropped streams are retried with backoff, and the full
// document is fetched again after each reconnect to cover missed events.
func (s *Session) Run(ctx context.Context) error {
	reconnect := false
	for {
		if reconnect {
			if err := s.refetch(ctx); err != nil {
				log.Warn().Err(err).Str("board_id", s.opts.BoardID).Msg("client: refetch failed")
			}
		}

		err := s.stream(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrBoardDeleted),
			errors.Is(err, domain.ErrUnauthorized),
			errors.Is(err, domain.ErrForbidden):
			return err
		}

		delay := s.backoff.Next()
		log.Warn().Err(err).
			Str("board_id", s.opts.BoardID).
			Str("client_id", s.clientID).
			Dur("retry_in", delay).
			Msg("client: stream lost")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		reconnect = true
	}
}

func (s *Session) stream(ctx context.Context) error {
	u := s.boardURL() + "/events?clientId=" + url.QueryEscape(s.clientID)
	req, err := s.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("client.stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client.stream: %w", statusError(resp))
	}

	for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxFrameSize}) {
		if err != nil {
			return fmt.Errorf("client.stream: %w", err)
		}
		if err := s.dispatch(ev.Type, ev.Data); err != nil {
			return err
		}
	}
	return fmt.Errorf("client.stream: %w", io.ErrUnexpectedEOF)
}

func (s *Session) dispatch(name, data string) error {
	switch name {
	case eventbus.EventConnected:
		s.backoff.Reset()
		log.Debug().Str("board_id", s.opts.BoardID).Str("client_id", s.clientID).Msg("client: connected")
	case eventbus.EventBoardUpdated:
		b, err := domain.ParseBoard([]byte(data))
		if err != nil {
			log.Warn().Err(err).Str("board_id", s.opts.BoardID).Msg("client: ignoring malformed update")
			return nil
		}
		s.apply(b)
	case eventbus.EventBoardDeleted:
		if s.opts.OnDeleted != nil {
			s.opts.OnDeleted()
		}
		return ErrBoardDeleted
	}
	return nil
}

// apply adopts a remote document unless local edits are pending.
func (s *Session) apply(b *domain.Board) {
	s.mu.Lock()
	if s.dirty {
		s.mu.Unlock()
		log.Debug().Str("board_id", s.opts.BoardID).Int("version", b.Version).Msg("client: update skipped, local edits pending")
		return
	}
	s.current = b.Clone()
	s.mu.Unlock()

	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(b)
	}
}

func (s *Session) refetch(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodGet, s.boardURL(), nil)
	if err != nil {
		return err
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("client.refetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client.refetch: %w", statusError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client.refetch: %w", err)
	}
	b, err := domain.ParseBoard(body)
	if err != nil {
		return fmt.Errorf("client.refetch: %w", err)
	}
	s.apply(b)
	return nil
}

// Save writes b at the last version this session knows about and returns
// the version the server assigned.
func (s *Session) Save(ctx context.Context, b *domain.Board) (int, error) {
	doc := b.Clone()
	doc.ID = s.opts.BoardID
	s.mu.Lock()
	if s.current != nil {
		doc.Version = s.current.Version
	}
	s.mu.Unlock()

	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("client.Save: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPut, s.boardURL(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", s.clientID)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client.Save: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var res struct {
			OK      bool `json:"ok"`
			Version int  `json:"version"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return 0, fmt.Errorf("client.Save: decode result: %w", err)
		}
		doc.Version = res.Version
		s.mu.Lock()
		s.current = doc
		s.dirty = false
		s.mu.Unlock()
		return res.Version, nil

	case http.StatusConflict:
		var conflict struct {
			Board json.RawMessage `json:"board"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return 0, fmt.Errorf("client.Save: decode conflict: %w", err)
		}
		server, err := domain.ParseBoard(conflict.Board)
		if err != nil {
			return 0, fmt.Errorf("client.Save: decode conflict: %w", err)
		}
		s.mu.Lock()
		s.dirty = false
		s.mu.Unlock()
		s.apply(server)
		return server.Version, ErrConflict

	default:
		return 0, fmt.Errorf("client.Save: %w", statusError(resp))
	}
}

func (s *Session) boardURL() string {
	return s.opts.BaseURL + "/api/v1/boards/" + url.PathEscape(s.opts.BoardID)
}

func (s *Session) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	return req, nil
}

// statusError turns an unexpected response into an error carrying the
// problem detail, wrapping the matching domain sentinel where there is one.
func statusError(resp *http.Response) error {
	var p struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&p)

	msg := resp.Status
	if p.Detail != "" {
		msg += ": " + p.Detail
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("unexpected status %s", msg)
	}
}
