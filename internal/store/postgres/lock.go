package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// AdvisoryLocker serializes work on a board across every process sharing the
// database. Each held or pending lock pins one connection of pool, which must
// not be the pool the locked work queries.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, boardID string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisoryLocker.Lock: acquire: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, boardID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisoryLocker.Lock: %w", err)
	}

	return func() {
		// Unlock must not depend on the caller's context, which may already
		// be canceled.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, boardID); err != nil {
			log.Error().Err(err).Str("board_id", boardID).Msg("postgres: advisory unlock failed")
			// Closing the connection drops every session lock it holds.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}
