package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/events"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// DefaultMinTransfer is the smallest amount a transfer may move.
const DefaultMinTransfer money.Amount = 1

// Transfer outcomes reported to a TransferObserver.
const (
	OutcomeCompleted = "completed"
	OutcomeReplayed  = "replayed"
)

// TransferObserver is notified of every transfer attempt's outcome.
type TransferObserver interface {
	ObserveTransfer(outcome string, amount money.Amount)
}

// TransferPublisher receives an event for every committed transfer.
type TransferPublisher interface {
	PublishTransfer(ctx context.Context, e events.TransferEvent) error
}

// TransferRequest is a request to move money from SenderID to RecipientPhone.
type TransferRequest struct {
	SenderID       string
	RecipientPhone string
	// Amount is the decimal amount as supplied by the caller, e.g. "250.50".
	Amount string

	Description    string
	IdempotencyKey string
}

// Recipient identifies the receiving side of a transfer.
type Recipient struct {
	Name  string
	Phone string
}

// TransferResult describes a committed transfer.
type TransferResult struct {
	TransactionID string
	Amount        money.Amount
	NewBalance    money.Amount
	Recipient     Recipient
	Timestamp     time.Time
	// Replayed is set when the result is that of an earlier transfer with the
	// same idempotency key.
	Replayed bool
}

// TransferService validates and executes transfers.
type TransferService struct {
	store       storage.Store
	logger      *slog.Logger
	minTransfer money.Amount
	observer    TransferObserver
	publisher   TransferPublisher
	now         func() time.Time
}

// TransferOption configures a TransferService.
type TransferOption func(*TransferService)

// WithMinTransfer sets the smallest accepted amount.
func WithMinTransfer(min money.Amount) TransferOption {
	return func(s *TransferService) {
		if min > 0 {
			s.minTransfer = min
		}
	}
}

// WithObserver reports outcomes to o.
func WithObserver(o TransferObserver) TransferOption {
	return func(s *TransferService) {
		s.observer = o
	}
}

// WithPublisher emits an event to p after each commit. A failed publish is
// logged and does not fail the transfer.
func WithPublisher(p TransferPublisher) TransferOption {
	return func(s *TransferService) {
		s.publisher = p
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) TransferOption {
	return func(s *TransferService) {
		s.now = now
	}
}

// NewTransferService creates a new transfer service over store.
func NewTransferService(store storage.Store, logger *slog.Logger, opts ...TransferOption) *TransferService {
	s := &TransferService{
		store:       store,
		logger:      logger,
		minTransfer: DefaultMinTransfer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer moves money from the sender to the account registered under the
// recipient phone. Checks run in order: amount, recipient, self-transfer,
// funds. The balance change and both records commit together or not at all.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	result, err := s.transfer(ctx, req)
	if s.observer != nil {
		switch {
		case err != nil:
			s.observer.ObserveTransfer(strings.ToLower(string(apperr.KindOf(err))), 0)
		case result.Replayed:
			s.observer.ObserveTransfer(OutcomeReplayed, result.Amount)
		default:
			s.observer.ObserveTransfer(OutcomeCompleted, result.Amount)
		}
	}
	return result, err
}

func (s *TransferService) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	phone := strings.TrimSpace(req.RecipientPhone)
	description := strings.TrimSpace(req.Description)
	key := strings.TrimSpace(req.IdempotencyKey)

	// Validate input
	if phone == "" || strings.TrimSpace(req.Amount) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "Please provide recipient phone number and amount")
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || amount <= 0 {
		return nil, apperr.Wrap(apperr.KindInvalidAmount, "Please provide a valid amount greater than 0", err)
	}
	if amount < s.minTransfer {
		return nil, apperr.New(apperr.KindInvalidAmount, fmt.Sprintf("Minimum transfer amount is $%s", s.minTransfer))
	}
	if utf8.RuneCountInString(description) > models.MaxDescriptionLength {
		return nil, apperr.New(apperr.KindInvalidInput, "Description must be less than 200 characters")
	}

	if key != "" {
		result, err := s.replay(ctx, req.SenderID, key, amount, phone)
		if err != nil || result != nil {
			return result, err
		}
	}

	sender, err := s.store.GetAccountByID(ctx, req.SenderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "Sender not found", err)
	}
	if err != nil {
		s.logger.Error("Sender lookup failed", "sender_id", req.SenderID, "error", err)
		return nil, apperr.Internal(err)
	}

	recipient, err := s.store.GetAccountByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindRecipientNotFound, "Recipient not found. Please check the phone number.", err)
	}
	if err != nil {
		s.logger.Error("Recipient lookup failed", "sender_id", sender.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	if sender.ID == recipient.ID {
		return nil, apperr.New(apperr.KindSelfTransfer, "Cannot send money to yourself")
	}

	// Early rejection only; the store re-checks against the locked balance.
	if sender.Balance < amount {
		return nil, apperr.New(apperr.KindInsufficientFunds, "Insufficient balance")
	}

	txID, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate transaction id: %w", err))
	}
	now := s.now().UnixMilli()

	debit := &models.TransactionRecord{
		TransactionID:  txID.String(),
		AccountID:      sender.ID,
		Kind:           models.KindSend,
		Counterparty:   recipient.Phone,
		Amount:         amount,
		Description:    orDefault(description, "Sent to "+recipient.Name),
		Status:         models.StatusCompleted,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	credit := &models.TransactionRecord{
		TransactionID: txID.String(),
		AccountID:     recipient.ID,
		Kind:          models.KindReceive,
		Counterparty:  sender.Phone,
		Amount:        amount,
		Description:   orDefault(description, "Received from "+sender.Name),
		Status:        models.StatusCompleted,
		CreatedAt:     now,
	}

	var balances storage.Balances
	err = s.store.Transact(ctx, sender.ID, recipient.ID, func(tx storage.LedgerTx) error {
		var err error
		balances, err = tx.AdjustBalances(ctx, amount)
		if err != nil {
			return err
		}
		return tx.RecordTransactionPair(ctx, debit, credit)
	})
	if err != nil {
		return s.transactFailed(ctx, err, sender.ID, key, amount, phone)
	}

	s.logger.Info("Transfer completed",
		"transaction_id", debit.TransactionID,
		"sender_id", sender.ID,
		"recipient_id", recipient.ID,
		"amount", amount.String(),
	)

	if s.publisher != nil {
		event := events.TransferEvent{
			TransactionID:  debit.TransactionID,
			SenderID:       sender.ID,
			SenderPhone:    sender.Phone,
			RecipientID:    recipient.ID,
			RecipientPhone: recipient.Phone,
			Amount:         amount,
			Description:    description,
			Timestamp:      time.UnixMilli(now).UTC(),
		}
		if err := s.publisher.PublishTransfer(ctx, event); err != nil {
			s.logger.Warn("Transfer event not published", "transaction_id", debit.TransactionID, "error", err)
		}
	}

	return &TransferResult{
		TransactionID: debit.TransactionID,
		Amount:        amount,
		NewBalance:    balances.Debit,
		Recipient:     Recipient{Name: recipient.Name, Phone: recipient.Phone},
		Timestamp:     time.UnixMilli(now).UTC(),
	}, nil
}

func (s *TransferService) transactFailed(ctx context.Context, err error, senderID, key string, amount money.Amount, phone string) (*TransferResult, error) {
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		return nil, apperr.Wrap(apperr.KindInsufficientFunds, "Insufficient balance", err)
	case errors.Is(err, storage.ErrConflict) && key != "":
		// A concurrent request with the same key committed first.
		result, rerr := s.replay(ctx, senderID, key, amount, phone)
		if rerr != nil {
			return nil, rerr
		}
		if result == nil {
			return nil, apperr.Internal(fmt.Errorf("idempotency key %q conflicted but no transfer holds it: %w", key, err))
		}
		return result, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Transfer abandoned", "sender_id", senderID, "error", err)
		return nil, apperr.Internal(err)
	default:
		s.logger.Error("Transfer failed", "sender_id", senderID, "error", err)
		return nil, apperr.Internal(err)
	}
}

// replay returns the result of the sender's earlier transfer with key, or
// nil when the key has not been used.
func (s *TransferService) replay(ctx context.Context, senderID, key string, amount money.Amount, phone string) (*TransferResult, error) {
	prior, err := s.store.FindTransferByIdempotencyKey(ctx, senderID, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Idempotency lookup failed", "sender_id", senderID, "error", err)
		return nil, apperr.Internal(err)
	}

	if prior.Amount != amount || prior.Counterparty != phone {
		return nil, apperr.New(apperr.KindConflict, "Idempotency-Key was already used for a different transfer")
	}

	recipient, err := s.store.GetAccountByPhone(ctx, prior.Counterparty)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to resolve recipient of %s: %w", prior.TransactionID, err))
	}
	sender, err := s.store.GetAccountByID(ctx, senderID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to resolve sender of %s: %w", prior.TransactionID, err))
	}

	s.logger.Info("Transfer replayed", "transaction_id", prior.TransactionID, "sender_id", senderID)

	return &TransferResult{
		TransactionID: prior.TransactionID,
		Amount:        prior.Amount,
		NewBalance:    sender.Balance,
		Recipient:     Recipient{Name: recipient.Name, Phone: recipient.Phone},
		Timestamp:     prior.CreatedTime(),
		Replayed:      true,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
