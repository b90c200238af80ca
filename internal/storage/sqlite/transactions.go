package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

const recordColumns = `id, transaction_id, account_id, kind, counterparty, amount,
	description, status, idempotency_key, created_at`

// insertRecord writes one transaction record inside tx.
func insertRecord(ctx context.Context, tx *sql.Tx, r *models.TransactionRecord) error {
	// Generate ID if not set
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TransactionID, r.AccountID, string(r.Kind), r.Counterparty, r.Amount,
		nullable(r.Description), string(r.Status), nullable(r.IdempotencyKey), r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction record %s: %w", r.TransactionID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction record: %w", err)
	}

	return nil
}

// ListTransactions retrieves the account's records, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.TransactionRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		 FROM transactions WHERE account_id = ?
		 ORDER BY created_at DESC, transaction_id DESC
		 LIMIT ? OFFSET ?`,
		accountID, limit, offset,
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
func (s *SQLiteStore) CountTransactions(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE account_id = ?", accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// GetTransaction retrieves the account's side of a transaction.
func (s *SQLiteStore) GetTransaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = ? AND transaction_id = ?`,
		accountID, transactionID,
	)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return r, nil
}

// FindTransferByIdempotencyKey retrieves the send record written with key.
func (s *SQLiteStore) FindTransferByIdempotencyKey(ctx context.Context, accountID, key string) (*models.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = ? AND idempotency_key = ?`,
		accountID, key,
	)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer by idempotency key: %w", err)
	}

	return r, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*models.TransactionRecord, error) {
	r := &models.TransactionRecord{}
	var kind, status string
	var description, idempotencyKey sql.NullString

	if err := row.Scan(&r.ID, &r.TransactionID, &r.AccountID, &kind, &r.Counterparty, &r.Amount,
		&description, &status, &idempotencyKey, &r.CreatedAt); err != nil {
		return nil, err
	}

	r.Kind = models.Kind(kind)
	r.Status = models.Status(status)
	if description.Valid {
		r.Description = description.String
	}
	if idempotencyKey.Valid {
		r.IdempotencyKey = idempotencyKey.String
	}

	return r, nil
}
