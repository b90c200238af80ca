// Package storage provides abstractions for the ledger's persistent state.
package storage

import (
	"context"
	"errors"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
)

// DefaultStartingBalance is credited to every new account unless the store
// is configured otherwise.
const DefaultStartingBalance money.Amount = 100000

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSameAccount       = errors.New("debit and credit accounts are the same")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidPair       = errors.New("invalid transaction pair")
	// ErrTxDone is returned by LedgerTx methods called outside their Transact callback.
	ErrTxDone = errors.New("ledger transaction already finished")
)

// Options configure a Store at construction.
type Options struct {
	StartingBalance money.Amount
}

// Option mutates Options.
type Option func(*Options)

// WithStartingBalance sets the balance credited to new accounts.
func WithStartingBalance(amount money.Amount) Option {
	return func(o *Options) {
		o.StartingBalance = amount
	}
}

// BuildOptions applies opts over the defaults.
func BuildOptions(opts ...Option) Options {
	o := Options{StartingBalance: DefaultStartingBalance}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IdempotencyScope is the map key stores use for (account, idempotency key).
func IdempotencyScope(accountID, key string) string {
	return accountID + "\x00" + key
}

// Balances are the balances of a transfer's two accounts after adjustment.
type Balances struct {
	Debit  money.Amount
	Credit money.Amount
}

// LedgerTx is the view of the ledger inside one Transact call.
// It is bound to the debit and credit accounts given to Transact.
type LedgerTx interface {
	// AdjustBalances moves amount from the debit to the credit account.
	// The funds check happens here, against the locked balance.
	// Returns ErrInsufficientFunds if the debit balance is below amount.
	AdjustBalances(ctx context.Context, amount money.Amount) (Balances, error)

	// RecordTransactionPair writes the send and receive records of a transfer.
	// Both records persist with the commit or neither does.
	// Returns ErrConflict if the debit record's idempotency key was already used.
	RecordTransactionPair(ctx context.Context, debit, credit *models.TransactionRecord) error
}

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (memory, SQLite, PostgreSQL)
// without changing the service layer.
type Store interface {
	// CreateAccount persists a new account with the store's starting balance.
	// Returns ErrConflict if the phone is already registered.
	CreateAccount(ctx context.Context, name, phone, pinHash string) (*models.Account, error)

	// GetAccountByPhone returns ErrNotFound if no account has this phone.
	GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error)

	// GetAccountByID returns ErrNotFound if the id is unknown.
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)

	// Transact runs fn as one atomic, isolated unit over the two accounts.
	// Concurrent calls touching either account are serialized. If fn returns
	// an error nothing it did is kept. Returns ErrNotFound if either account
	// is unknown and ErrSameAccount if the ids are equal.
	Transact(ctx context.Context, debitID, creditID string, fn func(tx LedgerTx) error) error

	// ListTransactions returns the account's records newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.TransactionRecord, error)

	// CountTransactions returns how many records the account owns.
	CountTransactions(ctx context.Context, accountID string) (int, error)

	// GetTransaction returns the account's record for a transaction id.
	GetTransaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error)

	// FindTransferByIdempotencyKey returns the send record written with key.
	FindTransferByIdempotencyKey(ctx context.Context, accountID, key string) (*models.TransactionRecord, error)

	// Ping checks that the backing engine is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
