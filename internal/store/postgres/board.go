package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

// BoardRepo keeps each board document as a jsonb row keyed by board id.
type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

func (r *BoardRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM boards WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("boardRepo.Exists: %w", err)
	}
	return ok, nil
}

func (r *BoardRepo) Read(ctx context.Context, id string) (*domain.Board, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM boards WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.Read: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.Read: %w", err)
	}

	b, err := domain.ParseBoard(doc)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.Read: %w: %w", domain.ErrCorrupt, err)
	}
	return b, nil
}

func (r *BoardRepo) Write(ctx context.Context, b *domain.Board) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("boardRepo.Write: encode: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO boards (id, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		b.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("boardRepo.Write: %w", err)
	}

	return nil
}

func (r *BoardRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("boardRepo.Delete: %w", err)
	}
	return nil
}

func (r *BoardRepo) List(ctx context.Context) ([]*domain.Board, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, doc FROM boards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.List: %w", err)
	}
	defer rows.Close()

	var boards []*domain.Board
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("boardRepo.List: scan: %w", err)
		}

		b, err := domain.ParseBoard(doc)
		if err != nil {
			log.Warn().Err(err).Str("board_id", id).Msg("postgres: skipping unreadable board")
			continue
		}
		b.ID = id
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.List: rows: %w", err)
	}

	return boards, nil
}
