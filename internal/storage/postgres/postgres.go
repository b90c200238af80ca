// Package postgres provides a PostgreSQL-backed implementation of the storage.Store interface.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		pin_hash TEXT NOT NULL,
		balance BIGINT NOT NULL CHECK (balance >= 0),
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL CHECK (kind IN ('send', 'receive', 'pay')),
		counterparty TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		description TEXT,
		status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		idempotency_key TEXT,
		created_at BIGINT NOT NULL,
		UNIQUE (transaction_id, account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		ON transactions (account_id, created_at DESC, transaction_id DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions (account_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
}

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	opts storage.Options
}

// New connects to dsn, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string, opts ...storage.Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{pool: pool, opts: storage.BuildOptions(opts...)}, nil
}

// Close closes every connection in the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Transact locks both account rows (ordered by id) for the length of fn.
func (s *Store) Transact(ctx context.Context, debitID, creditID string, fn func(tx storage.LedgerTx) error) error {
	if debitID == creditID {
		return storage.ErrSameAccount
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	txCtx := context.WithoutCancel(ctx)

	tx, err := s.pool.Begin(txCtx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(txCtx)

	rows, err := tx.Query(txCtx,
		`SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		[]string{debitID, creditID},
	)
	if err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}
	if len(locked) != 2 {
		return fmt.Errorf("accounts %s, %s: %w", debitID, creditID, storage.ErrNotFound)
	}

	lt := &ledgerTx{ctx: txCtx, tx: tx, debitID: debitID, creditID: creditID}
	err = fn(lt)
	lt.done = true
	if err != nil {
		return err
	}
	if lt.adjusted != lt.recorded {
		return fmt.Errorf("%w: balance change and record pair must be written together", storage.ErrInvalidPair)
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	ctx      context.Context
	tx       pgx.Tx
	debitID  string
	creditID string
	done     bool
	adjusted bool
	recorded bool
}

func (t *ledgerTx) AdjustBalances(_ context.Context, amount money.Amount) (storage.Balances, error) {
	if t.done {
		return storage.Balances{}, storage.ErrTxDone
	}
	if amount <= 0 {
		return storage.Balances{}, storage.ErrInvalidAmount
	}
	if t.adjusted {
		return storage.Balances{}, fmt.Errorf("balances already adjusted in this transaction")
	}

	now := time.Now().UnixMilli()

	var debit, credit int64
	err := t.tx.QueryRow(t.ctx,
		`UPDATE accounts SET balance = balance - $1, updated_at = $2
		 WHERE id = $3 AND balance >= $1 RETURNING balance`,
		int64(amount), now, t.debitID,
	).Scan(&debit)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Balances{}, fmt.Errorf("debit %s: %w", amount, storage.ErrInsufficientFunds)
	}
	if err != nil {
		return storage.Balances{}, fmt.Errorf("failed to debit account: %w", err)
	}

	err = t.tx.QueryRow(t.ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3 RETURNING balance`,
		int64(amount), now, t.creditID,
	).Scan(&credit)
	if err != nil {
		return storage.Balances{}, fmt.Errorf("failed to credit account: %w", err)
	}

	t.adjusted = true
	return storage.Balances{Debit: money.Amount(debit), Credit: money.Amount(credit)}, nil
}

func (t *ledgerTx) RecordTransactionPair(_ context.Context, debit, credit *models.TransactionRecord) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := models.ValidatePair(debit, credit); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidPair, err)
	}
	if debit.AccountID != t.debitID || credit.AccountID != t.creditID {
		return fmt.Errorf("%w: records do not match the transaction's accounts", storage.ErrInvalidPair)
	}
	if t.recorded {
		return fmt.Errorf("%w: pair already recorded in this transaction", storage.ErrInvalidPair)
	}

	batch := &pgx.Batch{}
	for _, r := range []*models.TransactionRecord{debit, credit} {
		queueInsertRecord(batch, r)
	}
	results := t.tx.SendBatch(t.ctx, batch)
	for range 2 {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err) {
				return fmt.Errorf("transaction record %s: %w", debit.TransactionID, storage.ErrConflict)
			}
			return fmt.Errorf("failed to insert transaction record: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert transaction records: %w", err)
	}

	t.recorded = true
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
