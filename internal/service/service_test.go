package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/geeky-vaiiib/BankEase/internal/apperr"
	"github.com/geeky-vaiiib/BankEase/internal/auth"
	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
	"github.com/geeky-vaiiib/BankEase/internal/storage/memory"
)

const testSecret = "test-secret"

// testEnv wires all three services over one in-memory store.
type testEnv struct {
	store     *memory.Store
	auth      *AuthService
	transfers *TransferService
	accounts  *AccountService
}

func newTestEnv(t *testing.T, opts ...TransferOption) *testEnv {
	t.Helper()

	store := memory.New(storage.WithStartingBalance(money.MustParse("1000")))
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.DiscardHandler)
	authenticator := auth.NewPINAuthenticator(store, bcrypt.MinCost)
	jwtManager := auth.NewJWTManager(testSecret, time.Hour)

	return &testEnv{
		store:     store,
		auth:      NewAuthService(authenticator, jwtManager, store, logger),
		transfers: NewTransferService(store, logger, opts...),
		accounts:  NewAccountService(store, logger),
	}
}

func (e *testEnv) register(t *testing.T, name, phone string) models.AccountSummary {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterRequest{Name: name, Phone: phone, PIN: "1234"})
	require.NoError(t, err)
	return res.User
}

func (e *testEnv) balance(t *testing.T, id string) money.Amount {
	t.Helper()
	b, err := e.accounts.Balance(context.Background(), id)
	require.NoError(t, err)
	return b.Balance
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}
