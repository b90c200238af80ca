// Package memory provides an in-process implementation of the storage.Store interface.
//
// Accounts are guarded by per-account mutexes taken in ascending id order, so
// transfers in opposite directions between the same pair cannot deadlock.
// The store-wide lock only protects the maps and is never held while waiting
// for an account lock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geeky-vaiiib/BankEase/internal/calculator"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

var errClosed = errors.New("memory store is closed")

// Store implements storage.Store with maps.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	byPhone  map[string]string
	locks    map[string]*sync.Mutex
	records  map[string][]*models.TransactionRecord
	idemKeys map[string]*models.TransactionRecord
	opts     storage.Options
	closed   bool
}

// New creates an empty Store.
func New(opts ...storage.Option) *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		byPhone:  make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		records:  make(map[string][]*models.TransactionRecord),
		idemKeys: make(map[string]*models.TransactionRecord),
		opts:     storage.BuildOptions(opts...),
	}
}

// Close marks the store closed. Data is discarded with the Store value.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping reports whether the store is still open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// CreateAccount registers a new account under a unique phone.
func (s *Store) CreateAccount(ctx context.Context, name, phone, pinHash string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPhone[phone]; exists {
		return nil, fmt.Errorf("phone %s: %w", phone, storage.ErrConflict)
	}

	now := time.Now().UnixMilli()
	account := &models.Account{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     phone,
		PINHash:   pinHash,
		Balance:   s.opts.StartingBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.accounts[account.ID] = account
	s.byPhone[phone] = account.ID
	s.locks[account.ID] = &sync.Mutex{}

	cp := *account
	return &cp, nil
}

// GetAccountByPhone returns a snapshot of the account registered to phone.
func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, fmt.Errorf("account with phone %s: %w", phone, storage.ErrNotFound)
	}
	cp := *s.accounts[id]
	return &cp, nil
}

// GetAccountByID returns a snapshot of the account.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	cp := *account
	return &cp, nil
}

// Transact locks both accounts in id order, runs fn against staged state and
// applies the staged writes only if fn succeeds.
func (s *Store) Transact(ctx context.Context, debitID, creditID string, fn func(tx storage.LedgerTx) error) error {
	if debitID == creditID {
		return storage.ErrSameAccount
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	debitLock, okDebit := s.locks[debitID]
	creditLock, okCredit := s.locks[creditID]
	s.mu.RUnlock()
	if !okDebit {
		return fmt.Errorf("account %s: %w", debitID, storage.ErrNotFound)
	}
	if !okCredit {
		return fmt.Errorf("account %s: %w", creditID, storage.ErrNotFound)
	}

	first, second := debitLock, creditLock
	if creditID < debitID {
		first, second = creditLock, debitLock
	}
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	tx := &ledgerTx{store: s, debitID: debitID, creditID: creditID}
	err := fn(tx)
	tx.done = true
	if err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies a finished ledgerTx. Callers hold both account locks.
func (s *Store) commit(tx *ledgerTx) error {
	if tx.adjusted != (tx.debit != nil) {
		return fmt.Errorf("%w: balance change and record pair must be written together", storage.ErrInvalidPair)
	}
	if !tx.adjusted {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	if key := tx.debit.IdempotencyKey; key != "" {
		scope := storage.IdempotencyScope(tx.debitID, key)
		if _, used := s.idemKeys[scope]; used {
			return fmt.Errorf("idempotency key %q: %w", key, storage.ErrConflict)
		}
		s.idemKeys[scope] = tx.debit
	}

	debit := s.accounts[tx.debitID]
	credit := s.accounts[tx.creditID]
	debit.Balance = tx.balances.Debit
	credit.Balance = tx.balances.Credit
	debit.UpdatedAt = tx.debit.CreatedAt
	credit.UpdatedAt = tx.debit.CreatedAt

	s.records[tx.debitID] = append(s.records[tx.debitID], tx.debit)
	s.records[tx.creditID] = append(s.records[tx.creditID], tx.credit)
	return nil
}

// ListTransactions returns the account's records newest first.
// A non-positive limit returns everything after offset.
func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.TransactionRecord, error) {
	s.mu.RLock()
	owned := s.records[accountID]
	sorted := make([]*models.TransactionRecord, len(owned))
	for i, r := range owned {
		cp := *r
		sorted[i] = &cp
	}
	s.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt > sorted[j].CreatedAt
		}
		return sorted[i].TransactionID > sorted[j].TransactionID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(sorted) {
		return []*models.TransactionRecord{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// CountTransactions returns the number of records the account owns.
func (s *Store) CountTransactions(ctx context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[accountID]), nil
}

// GetTransaction finds the account's side of a transaction.
func (s *Store) GetTransaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records[accountID] {
		if r.TransactionID == transactionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", transactionID, storage.ErrNotFound)
}

// FindTransferByIdempotencyKey returns the send record committed with key.
func (s *Store) FindTransferByIdempotencyKey(ctx context.Context, accountID, key string) (*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.idemKeys[storage.IdempotencyScope(accountID, key)]
	if !ok {
		return nil, fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// ledgerTx stages one transfer's writes until commit.
type ledgerTx struct {
	store    *Store
	debitID  string
	creditID string
	done     bool

	adjusted bool
	balances storage.Balances
	debit    *models.TransactionRecord
	credit   *models.TransactionRecord
}

func (t *ledgerTx) AdjustBalances(ctx context.Context, amount money.Amount) (storage.Balances, error) {
	if t.done {
		return storage.Balances{}, storage.ErrTxDone
	}
	if amount <= 0 {
		return storage.Balances{}, storage.ErrInvalidAmount
	}
	if t.adjusted {
		return storage.Balances{}, fmt.Errorf("balances already adjusted in this transaction")
	}

	// Both account locks are held, so these balances cannot move under us.
	t.store.mu.RLock()
	debit := t.store.accounts[t.debitID].Balance
	credit := t.store.accounts[t.creditID].Balance
	t.store.mu.RUnlock()

	out, err := calculator.ApplyTransfer(debit, credit, amount)
	if errors.Is(err, calculator.ErrInsufficient) {
		return storage.Balances{}, fmt.Errorf("%v: %w", err, storage.ErrInsufficientFunds)
	}
	if err != nil {
		return storage.Balances{}, err
	}

	t.balances = storage.Balances{Debit: out.Debit, Credit: out.Credit}
	t.adjusted = true
	return t.balances, nil
}

func (t *ledgerTx) RecordTransactionPair(ctx context.Context, debit, credit *models.TransactionRecord) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := models.ValidatePair(debit, credit); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidPair, err)
	}
	if debit.AccountID != t.debitID || credit.AccountID != t.creditID {
		return fmt.Errorf("%w: records do not match the transaction's accounts", storage.ErrInvalidPair)
	}
	if t.debit != nil {
		return fmt.Errorf("%w: pair already recorded in this transaction", storage.ErrInvalidPair)
	}

	if debit.IdempotencyKey != "" {
		t.store.mu.RLock()
		_, used := t.store.idemKeys[storage.IdempotencyScope(t.debitID, debit.IdempotencyKey)]
		t.store.mu.RUnlock()
		if used {
			return fmt.Errorf("idempotency key %q: %w", debit.IdempotencyKey, storage.ErrConflict)
		}
	}

	d, c := *debit, *credit
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	t.debit, t.credit = &d, &c
	return nil
}
