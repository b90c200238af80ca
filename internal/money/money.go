// Package money converts between user-supplied decimal amounts and the
// integer minor units the ledger stores.
//
// Balances and transfer amounts are held as int64 cents so that no float
// arithmetic ever touches a balance. Parsing and formatting go through
// shopspring/decimal.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits of the currency.
const Scale = 2

var (
	// ErrInvalid is returned for input that is not a decimal number.
	ErrInvalid = errors.New("invalid amount")
	// ErrPrecision is returned for amounts finer than one minor unit.
	ErrPrecision = errors.New("amount has more than two decimal places")
	// ErrOverflow is returned for amounts that do not fit the ledger.
	ErrOverflow = errors.New("amount is too large")
)

// Inputs and exponents outside these bounds are rejected before any
// arithmetic, so a short string such as "1e99999999" cannot force the
// decimal library to build a huge power of ten.
const (
	maxInputLength = 32
	// Any nonzero value above 10^maxExponent major units exceeds MaxInt64 cents.
	maxExponent = 18
	minExponent = -(Scale + 18)
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Amount is a monetary value in minor units (cents).
type Amount int64

// Parse reads a decimal string such as "250", "250.5" or "250.50".
// The sign is preserved; callers decide whether non-positive values are allowed.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalid
	}
	if len(s) > maxInputLength {
		return 0, fmt.Errorf("%w: longer than %d characters", ErrInvalid, maxInputLength)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return FromDecimal(d)
}

// FromDecimal converts d to minor units, rejecting sub-cent precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsZero() {
		return 0, nil
	}
	if exp := d.Exponent(); exp > maxExponent {
		return 0, ErrOverflow
	} else if exp < minExponent {
		return 0, ErrPrecision
	}

	minor := d.Shift(Scale)
	if !minor.IsInteger() {
		return 0, ErrPrecision
	}
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrOverflow
	}
	return Amount(minor.IntPart()), nil
}

// MustParse is Parse for constants and tests; it panics on bad input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("money: %v", err))
	}
	return a
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount with exactly two decimals, e.g. "750.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
