package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

const accountColumns = "id, name, phone, pin_hash, balance, created_at, updated_at"

// CreateAccount inserts a new account with the starting balance.
func (s *SQLiteStore) CreateAccount(ctx context.Context, name, phone, pinHash string) (*models.Account, error) {
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

	query := `
		INSERT INTO accounts (id, name, phone, pin_hash, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.Phone,
		account.PINHash,
		account.Balance,
		account.CreatedAt,
		account.UpdatedAt,
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
func (s *SQLiteStore) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE phone = ?"

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, phone))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account with phone %s: %w", phone, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by phone: %w", err)
	}

	return account, nil
}

// GetAccountByID retrieves an account by its ID.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = ?"

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}

	return account, nil
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Phone,
		&account.PINHash,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}
