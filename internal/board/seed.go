package board

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

//go:embed demo/*.json
var demoFS embed.FS

// DemoBoards returns the bundled public demo boards.
func DemoBoards() ([]*domain.Board, error) {
	entries, err := fs.ReadDir(demoFS, "demo")
	if err != nil {
		return nil, fmt.Errorf("board.DemoBoards: %w", err)
	}

	boards := make([]*domain.Board, 0, len(entries))
	for _, e := range entries {
		data, err := demoFS.ReadFile(path.Join("demo", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("board.DemoBoards: %w", err)
		}
		b, err := domain.ParseBoard(data)
		if err != nil {
			return nil, fmt.Errorf("board.DemoBoards: %s: %w", e.Name(), err)
		}
		b.OwnerID = nil
		boards = append(boards, b)
	}
	return boards, nil
}

// SeedDemo writes the demo boards that are not already stored and returns how
// many were written.
func SeedDemo(ctx context.Context, store domain.BoardStore) (int, error) {
	boards, err := DemoBoards()
	if err != nil {
		return 0, err
	}

	written := 0
	for _, b := range boards {
		exists, err := store.Exists(ctx, b.ID)
		if err != nil {
			return written, fmt.Errorf("board.SeedDemo: %w", err)
		}
		if exists {
			continue
		}
		if err := store.Write(ctx, b); err != nil {
			return written, fmt.Errorf("board.SeedDemo: %w", err)
		}
		written++
		log.Info().Str("board_id", b.ID).Str("name", b.Name).Msg("board: seeded demo board")
	}
	return written, nil
}
