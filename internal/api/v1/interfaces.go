package v1

import (
	"context"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
)

// BoardService abstracts board operations for handler testing.
// *board.Service satisfies this interface.
type BoardService interface {
	Save(ctx context.Context, req board.SaveRequest) (*board.SaveResult, error)
	Delete(ctx context.Context, boardID string, id domain.Identity) error
	Get(ctx context.Context, boardID string, id domain.Identity) (*domain.Board, error)
	List(ctx context.Context, id domain.Identity) ([]domain.BoardSummary, error)
	Sharing(ctx context.Context, boardID string, id domain.Identity) (*board.SharingInfo, error)
	UpdateSharing(ctx context.Context, boardID string, id domain.Identity, action, email string) (*board.SharingInfo, error)
}
