package auth

import (
	"context"

	"github.com/geeky-vaiiib/BankEase/internal/models"
)

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different auth methods (PIN,
// passkeys, OTP) without changing the service layer code.
type Authenticator interface {
	// Register creates a new account for the phone with the given credential.
	// Returns the created account or an error if registration fails.
	Register(ctx context.Context, name, phone, credential string) (*models.Account, error)

	// Authenticate verifies the credential for the phone and returns the account.
	Authenticate(ctx context.Context, phone, credential string) (*models.Account, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
