package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/geeky-vaiiib/BankEase/internal/storage/memory"
)

func newTestAuthenticator() *PINAuthenticator {
	return NewPINAuthenticator(memory.New(), bcrypt.MinCost)
}

func TestValidateCredential(t *testing.T) {
	a := newTestAuthenticator()

	tests := []struct {
		name    string
		pin     string
		wantErr bool
	}{
		{"four digits", "1234", false},
		{"leading zeros", "0007", false},
		{"too short", "123", true},
		{"too long", "12345", true},
		{"letters", "12a4", true},
		{"empty", "", true},
		{"spaces", "12 4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ValidateCredential(tt.pin)
			if tt.wantErr && !errors.Is(err, ErrInvalidPIN) {
				t.Errorf("ValidateCredential(%q) = %v, want ErrInvalidPIN", tt.pin, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCredential(%q) = %v, want nil", tt.pin, err)
			}
		})
	}
}

func TestRegisterHashesPIN(t *testing.T) {
	a := newTestAuthenticator()
	ctx := context.Background()

	account, err := a.Register(ctx, "Alice", "+15550001", "4321")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.PINHash == "4321" || account.PINHash == "" {
		t.Fatalf("PIN stored unhashed: %q", account.PINHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PINHash), []byte("4321")); err != nil {
		t.Errorf("stored hash does not match PIN: %v", err)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	a := newTestAuthenticator()
	ctx := context.Background()

	if _, err := a.Register(ctx, "Alice", "+15550001", "1111"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := a.Register(ctx, "Mallory", "+15550001", "2222")
	if !errors.Is(err, ErrPhoneExists) {
		t.Fatalf("expected ErrPhoneExists, got %v", err)
	}
}

func TestRegisterRejectsBadPIN(t *testing.T) {
	a := newTestAuthenticator()

	_, err := a.Register(context.Background(), "Alice", "+15550001", "12")
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator()
	ctx := context.Background()

	registered, err := a.Register(ctx, "Alice", "+15550001", "1234")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	account, err := a.Authenticate(ctx, "+15550001", "1234")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if account.ID != registered.ID {
		t.Errorf("expected account %s, got %s", registered.ID, account.ID)
	}

	// Wrong PIN and unknown phone are indistinguishable.
	if _, err := a.Authenticate(ctx, "+15550001", "9999"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong PIN: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "+15559999", "1234"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown phone: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNewPINAuthenticatorCostFallback(t *testing.T) {
	a := NewPINAuthenticator(memory.New(), 0)
	if a.cost != bcrypt.DefaultCost {
		t.Errorf("expected default cost %d, got %d", bcrypt.DefaultCost, a.cost)
	}
}
