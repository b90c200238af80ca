package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/calculator"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// RecentLimit is how many records Recent returns.
const RecentLimit = 5

// Balance is an account's current balance.
type Balance struct {
	AccountID   string
	Balance     money.Amount
	LastUpdated time.Time
}

// History is one page of an account's transaction records.
type History struct {
	Records []*models.TransactionRecord
	Page    calculator.Page
}

// AccountService answers read-only questions about the caller's account.
type AccountService struct {
	store  storage.Store
	logger *slog.Logger
}

// NewAccountService creates a new account query service.
func NewAccountService(store storage.Store, logger *slog.Logger) *AccountService {
	return &AccountService{store: store, logger: logger}
}

// Balance returns the account's balance.
func (s *AccountService) Balance(ctx context.Context, accountID string) (*Balance, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "User not found", err)
	}
	if err != nil {
		s.logger.Error("Balance fetch failed", "account_id", accountID, "error", err)
		return nil, apperr.Internal(err)
	}

	return &Balance{
		AccountID:   account.ID,
		Balance:     account.Balance,
		LastUpdated: account.UpdatedTime(),
	}, nil
}

// Recent returns the account's RecentLimit newest records.
func (s *AccountService) Recent(ctx context.Context, accountID string) ([]*models.TransactionRecord, error) {
	records, err := s.store.ListTransactions(ctx, accountID, RecentLimit, 0)
	if err != nil {
		s.logger.Error("Recent transactions fetch failed", "account_id", accountID, "error", err)
		return nil, apperr.Internal(err)
	}
	return records, nil
}

// History returns one page of the account's records, newest first.
func (s *AccountService) History(ctx context.Context, accountID string, page, limit int) (*History, error) {
	if err := calculator.ValidatePaging(page, limit); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err)
	}

	total, err := s.store.CountTransactions(ctx, accountID)
	if err != nil {
		s.logger.Error("Transaction count failed", "account_id", accountID, "error", err)
		return nil, apperr.Internal(err)
	}

	window, err := calculator.Paginate(page, limit, total)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err)
	}

	records := []*models.TransactionRecord{}
	if window.Offset < total {
		records, err = s.store.ListTransactions(ctx, accountID, window.Limit, window.Offset)
		if err != nil {
			s.logger.Error("Transaction history fetch failed", "account_id", accountID, "error", err)
			return nil, apperr.Internal(err)
		}
	}

	return &History{Records: records, Page: window}, nil
}

// Transaction returns the caller's side of one transaction.
func (s *AccountService) Transaction(ctx context.Context, accountID, transactionID string) (*models.TransactionRecord, error) {
	record, err := s.store.GetTransaction(ctx, accountID, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "Transaction not found", err)
	}
	if err != nil {
		s.logger.Error("Transaction fetch failed", "account_id", accountID, "transaction_id", transactionID, "error", err)
		return nil, apperr.Internal(err)
	}
	return record, nil
}
