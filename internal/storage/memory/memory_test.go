package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
	"github.com/geeky-vaiiib/BankEase/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestStartingBalanceOption(t *testing.T) {
	s := New(storage.WithStartingBalance(money.MustParse("25.50")))

	a, err := s.CreateAccount(context.Background(), "Alice", "+15550001", "hash")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(2550), a.Balance)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.CreateAccount(ctx, "Alice", "+15550001", "hash")
	require.NoError(t, err)
	a.Balance = 0

	got, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultStartingBalance, got.Balance)
}

func TestPingAfterClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
