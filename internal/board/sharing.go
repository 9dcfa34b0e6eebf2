package board

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/eventbus"
)

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Rejections of a sharing change. All of them match domain.ErrInvalidInput.
var (
	ErrEmailRequired = fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	ErrInvalidAction = fmt.Errorf("%w: action must be add or remove", domain.ErrInvalidInput)
	ErrAlreadyOwner  = fmt.Errorf("%w: user is already the owner of this board", domain.ErrInvalidInput)
	ErrAlreadyEditor = fmt.Errorf("%w: user is already an editor", domain.ErrInvalidInput)
)

type Editor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SharingInfo is the owner's view of who can edit a board.
type SharingInfo struct {
	OwnerID string   `json:"ownerId"`
	Editors []Editor `json:"editors"`
}

// Sharing returns the board's owner and resolved editor list. Only the owner
// may see it.
func (s *Service) Sharing(ctx context.Context, boardID string, id domain.Identity) (*SharingInfo, error) {
	b, err := s.ownedBoard(ctx, boardID, id)
	if err != nil {
		return nil, fmt.Errorf("board.Service.Sharing: %w", err)
	}
	return s.sharingInfo(ctx, b)
}

// UpdateSharing adds or removes an editor by email. The change is a board
// revision: the version is bumped and subscribers receive the new document.
func (s *Service) UpdateSharing(ctx context.Context, boardID string, id domain.Identity, action, email string) (*SharingInfo, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("board.Service.UpdateSharing: %w", ErrEmailRequired)
	}
	if action != ActionAdd && action != ActionRemove {
		return nil, fmt.Errorf("board.Service.UpdateSharing: %q: %w", action, ErrInvalidAction)
	}

	unlock, err := s.locker.Lock(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("board.Service.UpdateSharing: lock: %w", err)
	}
	defer unlock()

	b, err := s.ownedBoard(ctx, boardID, id)
	if err != nil {
		return nil, fmt.Errorf("board.Service.UpdateSharing: %w", err)
	}

	target, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("board.Service.UpdateSharing: user %q: %w", email, err)
	}

	switch action {
	case ActionAdd:
		if target.ID == id.UserID {
			return nil, fmt.Errorf("board.Service.UpdateSharing: %w", ErrAlreadyOwner)
		}
		if b.HasEditor(target.ID) {
			return nil, fmt.Errorf("board.Service.UpdateSharing: %w", ErrAlreadyEditor)
		}
		b.Editors = append(b.Editors, target.ID)
	case ActionRemove:
		kept := make([]string, 0, len(b.Editors))
		for _, e := range b.Editors {
			if e != target.ID {
				kept = append(kept, e)
			}
		}
		b.Editors = kept
	}

	b.Version++
	if err := s.store.Write(ctx, b); err != nil {
		return nil, fmt.Errorf("board.Service.UpdateSharing: %w", err)
	}

	s.broadcast(boardID, eventbus.NoSender, eventbus.EventBoardUpdated, b)

	log.Info().
		Str("board_id", boardID).
		Str("action", action).
		Str("editor_id", target.ID).
		Msg("board: sharing updated")

	return s.sharingInfo(ctx, b)
}

func (s *Service) ownedBoard(ctx context.Context, boardID string, id domain.Identity) (*domain.Board, error) {
	b, err := s.store.Read(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !domain.CanManageSharing(b, id.UserID) {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

func (s *Service) sharingInfo(ctx context.Context, b *domain.Board) (*SharingInfo, error) {
	info := &SharingInfo{OwnerID: *b.OwnerID, Editors: make([]Editor, 0, len(b.Editors))}
	for _, editorID := range b.Editors {
		u, err := s.users.GetByID(ctx, editorID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve editor %s: %w", editorID, err)
		}
		info.Editors = append(info.Editors, Editor{ID: u.ID, Email: u.Email, Name: u.Name})
	}
	return info, nil
}
