// Package storagetest is a conformance suite every storage.Store engine runs.
//
// Usage from an engine's tests:
//
//	storagetest.Run(t, func(t *testing.T) storage.Store {
//		return memory.New()
//	})
//
// The factory must return an empty store with the default starting balance.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAccount assigns ID and starting balance", testCreateAccount},
		{"CreateAccount rejects duplicate phone", testDuplicatePhone},
		{"GetAccount returns ErrNotFound", testAccountNotFound},
		{"Transfer conserves balances and writes a pair", testTransferConserves},
		{"Insufficient funds leaves state unchanged", testInsufficientFunds},
		{"Callback error rolls back", testCallbackRollback},
		{"Unpaired balance change is rejected", testUnpairedAdjust},
		{"Same account is rejected", testSameAccount},
		{"Unknown account is rejected", testUnknownAccount},
		{"Cancelled context is rejected before locking", testCancelledContext},
		{"Concurrent overdraw allows exactly one", testConcurrentOverdraw},
		{"Opposite transfers do not deadlock", testOppositeTransfers},
		{"ListTransactions pages newest first", testListTransactions},
		{"ListTransactions breaks ties by transaction id", testListTransactionsTieBreak},
		{"Idempotency key is unique per sender", testIdempotencyKey},
		{"Ping succeeds on an open store", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func mustAccount(t *testing.T, s storage.Store, name, phone string) *models.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), name, phone, "hash-"+phone)
	require.NoError(t, err)
	return a
}

// pair builds a well-formed send/receive pair between two accounts.
func pair(from, to *models.Account, amount money.Amount, at int64) (*models.TransactionRecord, *models.TransactionRecord) {
	txID := uuid.Must(uuid.NewV7()).String()
	debit := &models.TransactionRecord{
		ID:            uuid.New().String(),
		TransactionID: txID,
		AccountID:     from.ID,
		Kind:          models.KindSend,
		Counterparty:  to.Phone,
		Amount:        amount,
		Description:   "Sent to " + to.Name,
		Status:        models.StatusCompleted,
		CreatedAt:     at,
	}
	credit := &models.TransactionRecord{
		ID:            uuid.New().String(),
		TransactionID: txID,
		AccountID:     to.ID,
		Kind:          models.KindReceive,
		Counterparty:  from.Phone,
		Amount:        amount,
		Description:   "Received from " + from.Name,
		Status:        models.StatusCompleted,
		CreatedAt:     at,
	}
	return debit, credit
}

// transfer runs a complete transfer the way the service does.
func transfer(ctx context.Context, s storage.Store, from, to *models.Account, amount money.Amount) (storage.Balances, string, error) {
	var balances storage.Balances
	debit, credit := pair(from, to, amount, time.Now().UnixMilli())
	err := s.Transact(ctx, from.ID, to.ID, func(tx storage.LedgerTx) error {
		b, err := tx.AdjustBalances(ctx, amount)
		if err != nil {
			return err
		}
		balances = b
		return tx.RecordTransactionPair(ctx, debit, credit)
	})
	return balances, debit.TransactionID, err
}

func balanceOf(t *testing.T, s storage.Store, id string) money.Amount {
	t.Helper()
	a, err := s.GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func testCreateAccount(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, storage.DefaultStartingBalance, a.Balance)
	assert.NotZero(t, a.CreatedAt)

	byPhone, err := s.GetAccountByPhone(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byPhone.ID)
	assert.Equal(t, "hash-+15550001", byPhone.PINHash)

	byID, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Name)
}

func testDuplicatePhone(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := mustAccount(t, s, "Alice", "+15550001")

	_, err := s.CreateAccount(ctx, "Mallory", "+15550001", "other")
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.GetAccountByPhone(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, first.PINHash, got.PINHash)
}

func testAccountNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetAccountByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetAccountByPhone(ctx, "+19999999")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetTransaction(ctx, uuid.New().String(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTransferConserves(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	// Bring B down to 500.00 first: B sends 500.00 to A (A=1500, B=500).
	_, _, err := transfer(ctx, s, b, a, money.MustParse("500"))
	require.NoError(t, err)
	// A sends 500.00 back to a third account to return to 1000.00.
	c := mustAccount(t, s, "Carol", "+15550003")
	_, _, err = transfer(ctx, s, a, c, money.MustParse("500"))
	require.NoError(t, err)

	require.Equal(t, money.MustParse("1000"), balanceOf(t, s, a.ID))
	require.Equal(t, money.MustParse("500"), balanceOf(t, s, b.ID))

	balances, txID, err := transfer(ctx, s, a, b, money.MustParse("250"))
	require.NoError(t, err)

	assert.Equal(t, money.MustParse("750"), balances.Debit)
	assert.Equal(t, money.MustParse("750"), balances.Credit)
	assert.Equal(t, money.MustParse("750"), balanceOf(t, s, a.ID))
	assert.Equal(t, money.MustParse("750"), balanceOf(t, s, b.ID))

	sent, err := s.GetTransaction(ctx, a.ID, txID)
	require.NoError(t, err)
	received, err := s.GetTransaction(ctx, b.ID, txID)
	require.NoError(t, err)

	assert.Equal(t, models.KindSend, sent.Kind)
	assert.Equal(t, models.KindReceive, received.Kind)
	assert.Equal(t, money.MustParse("250"), sent.Amount)
	assert.Equal(t, sent.Amount, received.Amount)
	assert.Equal(t, sent.CreatedAt, received.CreatedAt)
	assert.Equal(t, b.Phone, sent.Counterparty)
	assert.Equal(t, a.Phone, received.Counterparty)
	assert.Equal(t, models.StatusCompleted, sent.Status)
}

func testInsufficientFunds(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	_, _, err := transfer(ctx, s, a, b, storage.DefaultStartingBalance+1)
	require.ErrorIs(t, err, storage.ErrInsufficientFunds)

	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, a.ID))
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, b.ID))

	n, err := s.CountTransactions(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.CountTransactions(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCallbackRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")
	boom := errors.New("boom")

	debit, credit := pair(a, b, 100, time.Now().UnixMilli())
	err := s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
		if _, err := tx.AdjustBalances(ctx, 100); err != nil {
			return err
		}
		if err := tx.RecordTransactionPair(ctx, debit, credit); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, a.ID))
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, b.ID))
	_, err = s.GetTransaction(ctx, a.ID, debit.TransactionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetTransaction(ctx, b.ID, debit.TransactionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUnpairedAdjust(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	err := s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
		_, err := tx.AdjustBalances(ctx, 100)
		return err
	})
	require.ErrorIs(t, err, storage.ErrInvalidPair)
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, a.ID))

	debit, credit := pair(a, b, 100, time.Now().UnixMilli())
	credit.Amount = 99
	err = s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
		if _, err := tx.AdjustBalances(ctx, 100); err != nil {
			return err
		}
		return tx.RecordTransactionPair(ctx, debit, credit)
	})
	require.ErrorIs(t, err, storage.ErrInvalidPair)
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, b.ID))
}

func testSameAccount(t *testing.T, s storage.Store) {
	a := mustAccount(t, s, "Alice", "+15550001")

	err := s.Transact(context.Background(), a.ID, a.ID, func(tx storage.LedgerTx) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, storage.ErrSameAccount)
}

func testUnknownAccount(t *testing.T, s storage.Store) {
	a := mustAccount(t, s, "Alice", "+15550001")

	err := s.Transact(context.Background(), a.ID, uuid.New().String(), func(tx storage.LedgerTx) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCancelledContext(t *testing.T, s storage.Store) {
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := transfer(ctx, s, a, b, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, a.ID))
}

func testConcurrentOverdraw(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sender := mustAccount(t, s, "Alice", "+15550001")
	r1 := mustAccount(t, s, "Bob", "+15550002")
	r2 := mustAccount(t, s, "Carol", "+15550003")

	// Sixty percent of the sender's balance, twice, at the same time.
	sixty := storage.DefaultStartingBalance * 6 / 10

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i, to := range []*models.Account{r1, r2} {
		wg.Add(1)
		go func(i int, to *models.Account) {
			defer wg.Done()
			<-start
			_, _, errs[i] = transfer(ctx, s, sender, to, sixty)
		}(i, to)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	total := balanceOf(t, s, sender.ID) + balanceOf(t, s, r1.ID) + balanceOf(t, s, r2.ID)
	assert.Equal(t, storage.DefaultStartingBalance*3, total)
	assert.Equal(t, storage.DefaultStartingBalance-sixty, balanceOf(t, s, sender.ID))
}

func testOppositeTransfers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := transfer(ctx, s, a, b, 1)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, _, err := transfer(ctx, s, b, a, 1)
			errs <- err
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("opposite transfers did not finish")
	}
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, a.ID))
	assert.Equal(t, storage.DefaultStartingBalance, balanceOf(t, s, b.ID))
}

func testListTransactions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	base := time.Now().UnixMilli()
	var txIDs []string
	for i := 0; i < 7; i++ {
		amount := money.Amount(100 * (i + 1))
		debit, credit := pair(a, b, amount, base+int64(i))
		err := s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
			if _, err := tx.AdjustBalances(ctx, amount); err != nil {
				return err
			}
			return tx.RecordTransactionPair(ctx, debit, credit)
		})
		require.NoError(t, err, fmt.Sprintf("transfer %d", i))
		txIDs = append(txIDs, debit.TransactionID)
	}

	n, err := s.CountTransactions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	page1, err := s.ListTransactions(ctx, a.ID, 3, 0)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.Equal(t, txIDs[6], page1[0].TransactionID)
	assert.Equal(t, txIDs[5], page1[1].TransactionID)
	assert.Equal(t, txIDs[4], page1[2].TransactionID)

	page3, err := s.ListTransactions(ctx, a.ID, 3, 6)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, txIDs[0], page3[0].TransactionID)

	beyond, err := s.ListTransactions(ctx, a.ID, 3, 30)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	all, err := s.ListTransactions(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 7)
	for _, r := range all {
		assert.Equal(t, models.KindReceive, r.Kind)
	}

	again, err := s.ListTransactions(ctx, a.ID, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, page1, again)
}

func testListTransactionsTieBreak(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	at := time.Now().UnixMilli()
	var txIDs []string
	for i := 0; i < 4; i++ {
		debit, credit := pair(a, b, 100, at)
		err := s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
			if _, err := tx.AdjustBalances(ctx, 100); err != nil {
				return err
			}
			return tx.RecordTransactionPair(ctx, debit, credit)
		})
		require.NoError(t, err)
		txIDs = append(txIDs, debit.TransactionID)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(txIDs)))

	got, err := s.ListTransactions(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, r := range got {
		assert.Equal(t, txIDs[i], r.TransactionID)
	}
}

func testIdempotencyKey(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "Alice", "+15550001")
	b := mustAccount(t, s, "Bob", "+15550002")

	run := func(key string) error {
		debit, credit := pair(a, b, 100, time.Now().UnixMilli())
		debit.IdempotencyKey = key
		return s.Transact(ctx, a.ID, b.ID, func(tx storage.LedgerTx) error {
			if _, err := tx.AdjustBalances(ctx, 100); err != nil {
				return err
			}
			return tx.RecordTransactionPair(ctx, debit, credit)
		})
	}

	require.NoError(t, run("key-1"))
	require.ErrorIs(t, run("key-1"), storage.ErrConflict)
	assert.Equal(t, storage.DefaultStartingBalance-100, balanceOf(t, s, a.ID))

	found, err := s.FindTransferByIdempotencyKey(ctx, a.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindSend, found.Kind)
	assert.Equal(t, "key-1", found.IdempotencyKey)

	_, err = s.FindTransferByIdempotencyKey(ctx, b.ID, "key-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, run("key-2"))
}

func testPing(t *testing.T, s storage.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
