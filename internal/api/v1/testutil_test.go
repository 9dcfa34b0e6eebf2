package v1_test

import (
	"context"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject the caller identity into context for DoCtx
// ---------------------------------------------------------------------------

var (
	alice = domain.Identity{UserID: "u-alice", Email: "alice@example.com"}
	carol = domain.Identity{UserID: "u-carol", Email: "carol@example.com"}
)

func userCtx(id domain.Identity) context.Context {
	return middleware.WithIdentity(context.Background(), id)
}

// ---------------------------------------------------------------------------
// Mock BoardService
// ---------------------------------------------------------------------------

type mockBoardService struct {
	saveFunc          func(ctx context.Context, req board.SaveRequest) (*board.SaveResult, error)
	deleteFunc        func(ctx context.Context, boardID string, id domain.Identity) error
	getFunc           func(ctx context.Context, boardID string, id domain.Identity) (*domain.Board, error)
	listFunc          func(ctx context.Context, id domain.Identity) ([]domain.BoardSummary, error)
	sharingFunc       func(ctx context.Context, boardID string, id domain.Identity) (*board.SharingInfo, error)
	updateSharingFunc func(ctx context.Context, boardID string, id domain.Identity, action, email string) (*board.SharingInfo, error)
}

func (m *mockBoardService) Save(ctx context.Context, req board.SaveRequest) (*board.SaveResult, error) {
	return m.saveFunc(ctx, req)
}

func (m *mockBoardService) Delete(ctx context.Context, boardID string, id domain.Identity) error {
	return m.deleteFunc(ctx, boardID, id)
}

func (m *mockBoardService) Get(ctx context.Context, boardID string, id domain.Identity) (*domain.Board, error) {
	return m.getFunc(ctx, boardID, id)
}

func (m *mockBoardService) List(ctx context.Context, id domain.Identity) ([]domain.BoardSummary, error) {
	return m.listFunc(ctx, id)
}

func (m *mockBoardService) Sharing(ctx context.Context, boardID string, id domain.Identity) (*board.SharingInfo, error) {
	return m.sharingFunc(ctx, boardID, id)
}

func (m *mockBoardService) UpdateSharing(ctx context.Context, boardID string, id domain.Identity, action, email string) (*board.SharingInfo, error) {
	return m.updateSharingFunc(ctx, boardID, id, action, email)
}
