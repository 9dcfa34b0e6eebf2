package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store owns two pools. Board locks live on their own pool so a lock holder
// never waits for a connection behind writers queued on the same lock.
type Store struct {
	pool     *pgxpool.Pool
	lockPool *pgxpool.Pool
	boards   *BoardRepo
	users    *UserRepo
	locker   *AdvisoryLocker
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns
	lockCfg := cfg.Copy()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	lockPool, err := pgxpool.NewWithConfig(ctx, lockCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: connect lock pool: %w", err)
	}

	return &Store{
		pool:     pool,
		lockPool: lockPool,
		boards:   NewBoardRepo(pool),
		users:    NewUserRepo(pool),
		locker:   NewAdvisoryLocker(lockPool),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.lockPool.Close()
	s.pool.Close()
}

func (s *Store) Boards() *BoardRepo      { return s.boards }
func (s *Store) Users() *UserRepo        { return s.users }
func (s *Store) Locker() *AdvisoryLocker { return s.locker }
