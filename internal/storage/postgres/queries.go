package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

const (
	accountColumns = "id, name, phone, pin_hash, balance, created_at, updated_at"
	recordColumns  = `id, transaction_id, account_id, kind, counterparty, amount,
		description, status, idempotency_key, created_at`
)

// CreateAccount inserts a new account with the starting balance.
func (s *Store) CreateAccount(ctx context.Context, name, phone, pinHash string) (*models.Account, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.Name, account.Phone, account.PINHash, int64(account.Balance),
		account.CreatedAt, account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("phone %s: %w", phone, storage.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// GetAccountByPhone retrieves an account by its phone number.
func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account with phone %s: %w", phone, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by phone: %w", err)
	}
	return account, nil
}

// GetAccountByID retrieves an account by its ID.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}
	return account, nil
}

// ListTransactions retrieves the account's records, newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.TransactionRecord, error) {
	if offset < 0 {
		offset = 0
	}
	// NULL means no limit.
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC, transaction_id DESC
		 LIMIT $2 OFFSET $3`,
		accountID, limitArg, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	records := []*models.TransactionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return records, nil
}

// CountTransactions returns the number of records owned by the account.
func (s *Store) CountTransactions(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// GetTransaction retrieves the account's side of a transaction.
func (s *Store) GetTransaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = $1 AND transaction_id = $2`,
		accountID, transactionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return r, nil
}

// FindTransferByIdempotencyKey retrieves the send record written with key.
func (s *Store) FindTransferByIdempotencyKey(ctx context.Context, accountID, key string) (*models.TransactionRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = $1 AND idempotency_key = $2`,
		accountID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer by idempotency key: %w", err)
	}
	return r, nil
}

func queueInsertRecord(batch *pgx.Batch, r *models.TransactionRecord) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	batch.Queue(
		`INSERT INTO transactions (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.TransactionID, r.AccountID, string(r.Kind), r.Counterparty, int64(r.Amount),
		nullable(r.Description), string(r.Status), nullable(r.IdempotencyKey), r.CreatedAt,
	)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	a := &models.Account{}
	var balance int64
	if err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.PINHash, &balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Balance = money.Amount(balance)
	return a, nil
}

func scanRecord(row pgx.Row) (*models.TransactionRecord, error) {
	r := &models.TransactionRecord{}
	var kind, status string
	var amount int64
	var description, idempotencyKey *string

	if err := row.Scan(&r.ID, &r.TransactionID, &r.AccountID, &kind, &r.Counterparty, &amount,
		&description, &status, &idempotencyKey, &r.CreatedAt); err != nil {
		return nil, err
	}

	r.Kind = models.Kind(kind)
	r.Status = models.Status(status)
	r.Amount = money.Amount(amount)
	if description != nil {
		r.Description = *description
	}
	if idempotencyKey != nil {
		r.IdempotencyKey = *idempotencyKey
	}
	return r, nil
}
