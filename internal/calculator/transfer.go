package calculator

import (
	"errors"
	"fmt"
	"math"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

var (
	ErrNonPositive  = errors.New("transfer amount must be positive")
	ErrInsufficient = errors.New("debit balance below transfer amount")
	ErrCreditLimit  = errors.New("credit balance would overflow")
)

// TransferOutcome is the pair of balances after a transfer.
type TransferOutcome struct {
	Debit  money.Amount
	Credit money.Amount
}

// ApplyTransfer computes the balances after moving amount from debit to credit.
//
// The debit side must cover the amount in full; balances never go negative.
// The sum of both balances is the same before and after.
func ApplyTransfer(debit, credit, amount money.Amount) (TransferOutcome, error) {
	if amount <= 0 {
		return TransferOutcome{}, ErrNonPositive
	}
	if debit < amount {
		return TransferOutcome{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficient, debit, amount)
	}
	if credit > money.Amount(math.MaxInt64)-amount {
		return TransferOutcome{}, ErrCreditLimit
	}
	return TransferOutcome{
		Debit:  debit - amount,
		Credit: credit + amount,
	}, nil
}
