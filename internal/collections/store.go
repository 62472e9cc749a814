package collections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/dental-collections/pkg/logging"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every collections repository on Postgres.
type Store struct {
	pool   PgxPool
	logger *logging.Logger
}

var (
	_ ScheduleRepository    = (*Store)(nil)
	_ HistoryRepository     = (*Store)(nil)
	_ PendingCallRepository = (*Store)(nil)
	_ MessageRepository     = (*Store)(nil)
	_ BillingRepository     = (*Store)(nil)
	_ PolicyRepository      = (*Store)(nil)
)

func NewStore(pool PgxPool, logger *logging.Logger) *Store {
	if pool == nil {
		panic("collections: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{pool: pool, logger: logger}
}

type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
