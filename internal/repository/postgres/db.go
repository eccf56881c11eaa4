package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/repository"
)

const defaultTxAttempts = 3

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		attempts: defaultTxAttempts,
	}
}

// RunTx runs fn in a read-committed transaction. Writers serialize on
// the event row lock taken by EventRepo.GetForUpdate, so the isolation
// level does not need to be raised. Deadlocks and serialization
// failures are retried.
func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	return s.RunTxWithOpts(ctx, nil, fn)
}

func (s *Store) RunTxWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.runTxOnce(ctx, txOpts, fn)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}

	return err
}

func (s *Store) runTxOnce(
	ctx context.Context,
	txOpts pgx.TxOptions,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, txStore{pool: s.pool, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Events() repository.EventRepo             { return &EventRepo{pool: s.pool} }
func (s *Store) Members() repository.MemberRepo           { return &MemberRepo{pool: s.pool} }
func (s *Store) Reservations() repository.ReservationRepo { return &ReservationRepo{pool: s.pool} }
func (s *Store) Charges() repository.ChargeRepo           { return &ChargeRepo{pool: s.pool} }
func (s *Store) Admin() repository.AdminRepo              { return &AdminRepo{pool: s.pool} }

// txStore hands out repositories bound to a running transaction.
type txStore struct {
	pool *pgxpool.Pool
	db   DB
}

func (t txStore) Events() repository.EventRepo {
	return (&EventRepo{pool: t.pool}).With(t.db)
}

func (t txStore) Members() repository.MemberRepo {
	return (&MemberRepo{pool: t.pool}).With(t.db)
}

func (t txStore) Reservations() repository.ReservationRepo {
	return (&ReservationRepo{pool: t.pool}).With(t.db)
}

func (t txStore) Charges() repository.ChargeRepo {
	return (&ChargeRepo{pool: t.pool}).With(t.db)
}

func (t txStore) Admin() repository.AdminRepo {
	return (&AdminRepo{pool: t.pool}).With(t.db)
}
