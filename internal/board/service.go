// Package board implements the optimistic-concurrency save protocol and the
// rest of the board lifecycle: reads, listing, deletion, and sharing.
package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/eventbus"
)

// Broadcaster fans an event out to a board's subscribers. Both the in-process
// bus and the Redis relay satisfy it.
type Broadcaster interface {
	Broadcast(boardID, sender, name string, payload any) error
}

// ErrMalformedBody rejects a save whose body is not a board document.
var ErrMalformedBody = fmt.Errorf("%w: malformed board document", domain.ErrInvalidInput)

// ConflictError is returned by Save when the caller's version is stale. Board
// holds the stored document so the caller can adopt it.
type ConflictError struct {
	Board *domain.Board
}

func (e *ConflictError) Error() string {
	if e == nil || e.Board == nil {
		return "board: version conflict"
	}
	return fmt.Sprintf("board %s: version conflict (server version %d)", e.Board.ID, e.Board.Version)
}

// Unwrap lets callers match with errors.Is(err, domain.ErrConflict).
func (e *ConflictError) Unwrap() error { return domain.ErrConflict }

// SaveRequest is one client's full-document save. Body is the raw board JSON;
// its version field must be at least the stored version. ClientID is echoed as
// the event sender so the saving tab can ignore its own update.
type SaveRequest struct {
	BoardID  string
	Body     []byte
	ClientID string
	Identity domain.Identity
}

// SaveResult is the success body of a save: the version now on disk.
type SaveResult struct {
	OK      bool `json:"ok"`
	Version int  `json:"version"`
}

// Service owns the board lifecycle. Every mutation runs under the per-board
// lock from its BoardLocker and is announced through its Broadcaster.
type Service struct {
	store  domain.BoardStore
	locker domain.BoardLocker
	users  domain.UserDirectory
	bus    Broadcaster
}

// NewService wires the service. A nil locker falls back to an in-process
// KeyedMutex.
func NewService(store domain.BoardStore, locker domain.BoardLocker, users domain.UserDirectory, bus Broadcaster) *Service {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Service{store: store, locker: locker, users: users, bus: bus}
}

// Save persists a client's full board document if its version is not stale.
// The check, version bump, write and broadcast happen under the board lock so
// concurrent saves to one board are serialized and never lose an update.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	incoming, err := domain.ParseBoard(req.Body)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Save: %w: %w", ErrMalformedBody, err)
	}

	unlock, err := s.locker.Lock(ctx, req.BoardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Save: lock: %w", err)
	}
	defer unlock()

	exists, err := s.store.Exists(ctx, req.BoardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Save: %w", err)
	}

	var disk *domain.Board
	if exists {
		disk, err = s.store.Read(ctx, req.BoardID)
		switch {
		case errors.Is(err, domain.ErrCorrupt):
			log.Warn().Err(err).Str("board_id", req.BoardID).Msg("board: stored document unreadable, replacing it")
			disk = nil
		case errors.Is(err, domain.ErrNotFound):
			disk = nil
		case err != nil:
			return nil, fmt.Errorf("board.Service.Save: %w", err)
		}
	}

	if disk != nil && !domain.CheckAccess(disk, req.Identity.UserID).Authorized {
		return nil, fmt.Errorf("board.Service.Save: %w", domain.ErrForbidden)
	}

	diskVersion := 0
	if disk != nil {
		diskVersion = disk.Version
	}

	// A missing or unreadable board accepts any version, negative included.
	if disk != nil && incoming.Version < diskVersion {
		return nil, &ConflictError{Board: disk}
	}

	next := incoming.WithoutAccessFields()
	next.ID = req.BoardID
	next.Version = diskVersion + 1
	if disk == nil {
		owner := req.Identity.UserID
		next.OwnerID = &owner
	} else {
		next.OwnerID = disk.OwnerID
		next.Editors = append([]string{}, disk.Editors...)
	}

	if err := s.store.Write(ctx, next); err != nil {
		return nil, fmt.Errorf("board.Service.Save: %w", err)
	}

	s.broadcast(req.BoardID, req.ClientID, eventbus.EventBoardUpdated, next)

	log.Debug().
		Str("board_id", req.BoardID).
		Str("client_id", req.ClientID).
		Int("version", next.Version).
		Msg("board: saved")

	return &SaveResult{OK: true, Version: next.Version}, nil
}

// Delete removes a board. Only the owner may delete a private board; public
// and unreadable boards may be deleted by anyone. Deleting an absent board
// succeeds and still notifies subscribers.
func (s *Service) Delete(ctx context.Context, boardID string, id domain.Identity) error {
	unlock, err := s.locker.Lock(ctx, boardID)
	if err != nil {
		return fmt.Errorf("board.Service.Delete: lock: %w", err)
	}
	defer unlock()

	b, err := s.store.Read(ctx, boardID)
	switch {
	case err == nil:
		if !domain.CanDelete(b, id.UserID) {
			return fmt.Errorf("board.Service.Delete: %w", domain.ErrForbidden)
		}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCorrupt):
	default:
		return fmt.Errorf("board.Service.Delete: %w", err)
	}

	if err := s.store.Delete(ctx, boardID); err != nil {
		return fmt.Errorf("board.Service.Delete: %w", err)
	}

	s.broadcast(boardID, eventbus.NoSender, eventbus.EventBoardDeleted, map[string]string{"id": boardID})
	return nil
}

// Get returns the stored board if the caller may access it.
func (s *Service) Get(ctx context.Context, boardID string, id domain.Identity) (*domain.Board, error) {
	b, err := s.store.Read(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Get: %w", err)
	}
	if !domain.CheckAccess(b, id.UserID).Authorized {
		return nil, fmt.Errorf("board.Service.Get: %w", domain.ErrForbidden)
	}
	return b, nil
}

// Access reports the caller's access to a stored board. ok is false when the
// board is absent or unreadable, in which case there is nothing to protect.
func (s *Service) Access(ctx context.Context, boardID string, id domain.Identity) (res domain.AccessResult, ok bool, err error) {
	b, err := s.store.Read(ctx, boardID)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCorrupt):
		return domain.AccessResult{}, false, nil
	case err != nil:
		return domain.AccessResult{}, false, fmt.Errorf("board.Service.Access: %w", err)
	}
	return domain.CheckAccess(b, id.UserID), true, nil
}

// List returns summaries of every board the caller may access, sorted by id.
func (s *Service) List(ctx context.Context, id domain.Identity) ([]domain.BoardSummary, error) {
	boards, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("board.Service.List: %w", err)
	}

	out := make([]domain.BoardSummary, 0, len(boards))
	for _, b := range boards {
		if domain.CheckAccess(b, id.UserID).Authorized {
			out = append(out, b.Summary())
		}
	}
	domain.SortSummaries(out)
	return out, nil
}

func (s *Service) broadcast(boardID, sender, name string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Broadcast(boardID, sender, name, payload); err != nil {
		log.Error().Err(err).Str("board_id", boardID).Str("event", name).Msg("board: broadcast failed")
	}
}

