package models

import (
	"fmt"
	"time"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

// Kind is the direction of a transaction record from its owner's view.
type Kind string

const (
	KindSend    Kind = "send"
	KindReceive Kind = "receive"
	KindPay     Kind = "pay"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// MaxDescriptionLength bounds TransactionRecord.Description, in characters.
const MaxDescriptionLength = 200

// TransactionRecord is one account's side of a money movement.
type TransactionRecord struct {
	// ID is the unique identifier for the record (UUID format).
	ID string

	// TransactionID correlates the send and receive records of one transfer.
	TransactionID string

	// AccountID is the account that owns this record.
	AccountID string

	// Kind is send, receive or pay.
	Kind Kind

	// Counterparty is the other side's phone: the recipient for send/pay,
	// the sender for receive.
	Counterparty string

	// Amount is the positive amount moved.
	Amount money.Amount

	// Description is an optional note of at most MaxDescriptionLength characters.
	Description string

	// Status is pending, completed or failed.
	Status Status

	// IdempotencyKey is the client-supplied key of the transfer, set on the
	// send side only.
	IdempotencyKey string

	// CreatedAt is the Unix time in milliseconds when the record was written.
	CreatedAt int64
}

// CreatedTime returns CreatedAt as a time.Time.
func (r *TransactionRecord) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// ValidatePair checks that debit and credit form a well-formed transfer pair.
func ValidatePair(debit, credit *TransactionRecord) error {
	if debit == nil || credit == nil {
		return fmt.Errorf("both records of a pair are required")
	}
	if debit.TransactionID == "" || debit.TransactionID != credit.TransactionID {
		return fmt.Errorf("pair records must share a transaction id")
	}
	if debit.Kind != KindSend || credit.Kind != KindReceive {
		return fmt.Errorf("pair must be send/receive, got %s/%s", debit.Kind, credit.Kind)
	}
	if debit.Amount <= 0 || debit.Amount != credit.Amount {
		return fmt.Errorf("pair amounts must be positive and equal")
	}
	if debit.CreatedAt != credit.CreatedAt {
		return fmt.Errorf("pair records must share a timestamp")
	}
	if debit.AccountID == credit.AccountID {
		return fmt.Errorf("pair records must belong to different accounts")
	}
	return nil
}
