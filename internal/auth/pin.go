package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid phone number or PIN")
	ErrInvalidPIN         = errors.New("PIN must be exactly 4 digits")
	ErrPhoneExists        = errors.New("user with this phone number already exists")
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// AccountStorage defines the account persistence the authenticator needs.
// This allows the authenticator to be independent of the storage implementation.
type AccountStorage interface {
	CreateAccount(ctx context.Context, name, phone, pinHash string) (*models.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}

// PINAuthenticator implements PIN-based authentication using bcrypt.
type PINAuthenticator struct {
	storage AccountStorage
	cost    int
	// dummyHash is compared against when the phone is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// NewPINAuthenticator creates a new PIN authenticator.
// cost is the bcrypt cost; values below bcrypt.MinCost use bcrypt.DefaultCost.
func NewPINAuthenticator(storage AccountStorage, cost int) *PINAuthenticator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("0000"), cost)
	return &PINAuthenticator{
		storage:   storage,
		cost:      cost,
		dummyHash: dummy,
	}
}

// ValidateCredential checks that the PIN is exactly four digits.
func (a *PINAuthenticator) ValidateCredential(credential string) error {
	if !pinPattern.MatchString(credential) {
		return ErrInvalidPIN
	}
	return nil
}

// Register creates a new account with a hashed PIN.
func (a *PINAuthenticator) Register(ctx context.Context, name, phone, credential string) (*models.Account, error) {
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	// Check if phone already exists
	_, err := a.storage.GetAccountByPhone(ctx, phone)
	if err == nil {
		return nil, ErrPhoneExists
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check phone: %w", err)
	}

	hashedPIN, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash PIN: %w", err)
	}

	account, err := a.storage.CreateAccount(ctx, name, phone, string(hashedPIN))
	if errors.Is(err, storage.ErrConflict) {
		// Lost a race with a concurrent registration for the same phone.
		return nil, ErrPhoneExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// Authenticate verifies the phone and PIN, returning the account if valid.
// Unknown phone and wrong PIN produce the same error.
func (a *PINAuthenticator) Authenticate(ctx context.Context, phone, credential string) (*models.Account, error) {
	account, err := a.storage.GetAccountByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(credential))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PINHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}
