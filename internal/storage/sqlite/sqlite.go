// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	opts storage.Options
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
//
// Every transaction is opened with BEGIN IMMEDIATE, so writers take the
// database write lock up front and a transfer's balance check cannot race
// another writer. Waiting writers block for up to the busy timeout.
func New(dbPath string, opts ...storage.Option) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate",
		dbPath,
	)

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Run migrations
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, opts: storage.BuildOptions(opts...)}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Transact runs fn inside one immediate SQLite transaction.
func (s *SQLiteStore) Transact(ctx context.Context, debitID, creditID string, fn func(tx storage.LedgerTx) error) error {
	if debitID == creditID {
		return storage.ErrSameAccount
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The commit phase must not be interrupted by the caller going away.
	txCtx := context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{debitID, creditID} {
		var exists int
		err := tx.QueryRowContext(txCtx, "SELECT 1 FROM accounts WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check account existence: %w", err)
		}
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ledgerTx is the LedgerTx of one SQLite transaction.
type ledgerTx struct {
	ctx      context.Context
	tx       *sql.Tx
	debitID  string
	creditID string
	done     bool
	adjusted bool
	recorded bool
}

// AdjustBalances debits and credits within the open transaction.
// The guarded UPDATE keeps the balance check and the write in one statement.
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

	res, err := t.tx.ExecContext(t.ctx,
		"UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?",
		amount, now, t.debitID, amount,
	)
	if err != nil {
		return storage.Balances{}, fmt.Errorf("failed to debit account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Balances{}, fmt.Errorf("failed to read debit result: %w", err)
	}
	if n != 1 {
		return storage.Balances{}, fmt.Errorf("debit %s: %w", amount, storage.ErrInsufficientFunds)
	}

	if _, err := t.tx.ExecContext(t.ctx,
		"UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?",
		amount, now, t.creditID,
	); err != nil {
		return storage.Balances{}, fmt.Errorf("failed to credit account: %w", err)
	}

	var b storage.Balances
	if err := t.tx.QueryRowContext(t.ctx, "SELECT balance FROM accounts WHERE id = ?", t.debitID).Scan(&b.Debit); err != nil {
		return storage.Balances{}, fmt.Errorf("failed to read debit balance: %w", err)
	}
	if err := t.tx.QueryRowContext(t.ctx, "SELECT balance FROM accounts WHERE id = ?", t.creditID).Scan(&b.Credit); err != nil {
		return storage.Balances{}, fmt.Errorf("failed to read credit balance: %w", err)
	}

	t.adjusted = true
	return b, nil
}

// RecordTransactionPair inserts both records within the open transaction.
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

	for _, r := range []*models.TransactionRecord{debit, credit} {
		if err := insertRecord(t.ctx, t.tx, r); err != nil {
			return err
		}
	}

	t.recorded = true
	return nil
}

// nullable maps "" to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
