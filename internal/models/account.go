package models

import (
	"time"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

// Account represents a registered user account.
type Account struct {
	// ID is the unique identifier for the account (UUID format).
	ID string

	// Name is the display name of the account holder.
	Name string

	// Phone is the account's unique transfer address.
	Phone string

	// PINHash is the bcrypt hash of the 4-digit PIN. Never serialized.
	PINHash string

	// Balance is the current balance in minor units. Never negative.
	Balance money.Amount

	// CreatedAt is the Unix time in milliseconds when the account was created.
	CreatedAt int64

	// UpdatedAt is the Unix time in milliseconds of the last balance change.
	UpdatedAt int64
}

// AccountSummary is the client-facing view of an account.
type AccountSummary struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Phone   string       `json:"phone"`
	Balance money.Amount `json:"balance"`
}

// Summary returns the client-facing view of a.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:      a.ID,
		Name:    a.Name,
		Phone:   a.Phone,
		Balance: a.Balance,
	}
}

// UpdatedTime returns UpdatedAt as a time.Time.
func (a *Account) UpdatedTime() time.Time {
	return time.UnixMilli(a.UpdatedAt).UTC()
}
