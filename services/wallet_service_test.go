package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankiekoifi/gamestake/models"
	"github.com/frankiekoifi/gamestake/store"
)

// stubGateway hands back a canned reference without touching the network.
type stubGateway struct {
	ref string
	err error
}

func (g *stubGateway) InitiateDeposit(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	return g.ref, g.err
}

func newWalletService(t *testing.T) (*WalletService, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	svc := NewWalletService(st, &stubGateway{ref: "DEP_TEST_REF"}, LogNotifier{})
	return svc, st
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fund opens a wallet and credits it through a completed deposit.
func fund(t *testing.T, svc *WalletService, userID string, amount decimal.Decimal) {
	t.Helper()
	_, err := svc.CreateWallet(context.Background(), userID, "KES")
	require.NoError(t, err)
	if amount.IsZero() {
		return
	}
	_, err = svc.Apply(context.Background(), TransactionInput{
		UserID:    userID,
		Kind:      models.TxDeposit,
		Amount:    amount,
		Reference: fmt.Sprintf("seed:%s", userID),
	})
	require.NoError(t, err)
}

func TestCreateWallet(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()

	t.Run("creates with zero balances", func(t *testing.T) {
		w, err := svc.CreateWallet(ctx, "alice", "")
		require.NoError(t, err)
		assert.Equal(t, "alice", w.UserID)
		assert.Equal(t, "KES", w.Currency)
		assert.True(t, w.Balance.IsZero())
		assert.True(t, w.Locked.IsZero())
	})

	t.Run("is idempotent", func(t *testing.T) {
		first, err := svc.CreateWallet(ctx, "bob", "KES")
		require.NoError(t, err)
		second, err := svc.CreateWallet(ctx, "bob", "KES")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestApplyEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit credits balance", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("500"))

		w, err := svc.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(d("500")))
		assert.True(t, w.Available().Equal(d("500")))
	})

	t.Run("entry locks without changing balance", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("500"))

		res, err := svc.Apply(ctx, TransactionInput{
			UserID:    "alice",
			Kind:      models.TxMatchEntry,
			Amount:    d("200"),
			Reference: "m1:entry",
		})
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(d("500")))
		assert.True(t, res.Wallet.Locked.Equal(d("200")))
		assert.True(t, res.Wallet.Available().Equal(d("300")))
		assert.True(t, res.Record.NetAmount.IsZero())
	})

	t.Run("release debits balance and locked", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("500"))
		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchEntry, Amount: d("200"), Reference: "m1:entry",
		})
		require.NoError(t, err)

		res, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchRelease, Amount: d("200"), Reference: "m1:release",
		})
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(d("300")))
		assert.True(t, res.Wallet.Locked.IsZero())
		assert.True(t, res.Record.NetAmount.Equal(d("-200")))
	})

	t.Run("winning credits payout minus own stake", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("1000"))
		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchEntry, Amount: d("200"), Reference: "m1:entry",
		})
		require.NoError(t, err)

		res, err := svc.Apply(ctx, TransactionInput{
			UserID:    "alice",
			Kind:      models.TxMatchWinning,
			Amount:    d("360"),
			Fee:       d("40"),
			Stake:     d("200"),
			Reference: "m1:winning",
		})
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(d("1160")))
		assert.True(t, res.Wallet.Locked.IsZero())
		assert.True(t, res.Record.NetAmount.Equal(d("160")))
	})

	t.Run("refund unlocks in full", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("500"))
		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchEntry, Amount: d("200"), Reference: "m1:entry",
		})
		require.NoError(t, err)

		res, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxRefund, Amount: d("200"), Reference: "m1:refund",
		})
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(d("500")))
		assert.True(t, res.Wallet.Locked.IsZero())
		assert.True(t, res.Record.NetAmount.IsZero())
	})

	t.Run("withdrawal respects locked funds", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("500"))
		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchEntry, Amount: d("300"), Reference: "m1:entry",
		})
		require.NoError(t, err)

		_, err = svc.Withdraw(ctx, "alice", d("250"), "mpesa")
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		res, err := svc.Withdraw(ctx, "alice", d("200"), "mpesa")
		require.NoError(t, err)
		assert.True(t, res.Wallet.Balance.Equal(d("300")))
	})

	t.Run("entry beyond available is rejected", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("100"))

		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxMatchEntry, Amount: d("150"), Reference: "m1:entry",
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("rejects non-positive amounts and missing references", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", d("100"))

		_, err := svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxDeposit, Amount: d("-5"), Reference: "bad",
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = svc.Apply(ctx, TransactionInput{
			UserID: "alice", Kind: models.TxDeposit, Amount: d("5"),
		})
		assert.Error(t, err)
	})
}

func TestApplyIdempotency(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, svc, "alice", d("500"))

	in := TransactionInput{
		UserID: "alice", Kind: models.TxMatchEntry, Amount: d("200"), Reference: "m1:entry",
	}
	first, err := svc.Apply(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Apply(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, second.Wallet.Locked.Equal(d("200")), "replay must not lock twice")
}

func TestLedgerSumMatchesBalance(t *testing.T) {
	// The sum of net amounts over completed records reconstructs the balance.
	svc, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, svc, "alice", d("1000"))

	steps := []TransactionInput{
		{UserID: "alice", Kind: models.TxMatchEntry, Amount: d("200"), Reference: "m1:entry"},
		{UserID: "alice", Kind: models.TxMatchWinning, Amount: d("360"), Fee: d("40"), Stake: d("200"), Reference: "m1:winning"},
		{UserID: "alice", Kind: models.TxTournamentEntry, Amount: d("100"), Reference: "t1:entry"},
		{UserID: "alice", Kind: models.TxMatchRelease, Amount: d("100"), Reference: "t1:release"},
		{UserID: "alice", Kind: models.TxWithdrawal, Amount: d("60"), Reference: "wd1"},
	}
	for _, in := range steps {
		_, err := svc.Apply(ctx, in)
		require.NoError(t, err)
	}

	w, err := svc.GetWallet(ctx, "alice")
	require.NoError(t, err)

	records, err := svc.Transactions(ctx, "alice")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, r := range records {
		if r.Status == models.TxCompleted {
			sum = sum.Add(r.NetAmount)
		}
	}
	assert.True(t, sum.Equal(w.Balance), "sum %s vs balance %s", sum, w.Balance)
}

func TestInitiateDeposit(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, svc, "alice", decimal.Zero)

	record, err := svc.InitiateDeposit(ctx, "alice", d("300"), "mpesa")
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, record.Status)
	assert.Equal(t, "DEP_TEST_REF", record.Reference)

	w, err := svc.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "no credit before confirmation")
	assert.True(t, w.Pending.Equal(d("300")))
}

func TestHandlePaymentEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("success credits exactly once", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", decimal.Zero)
		_, err := svc.InitiateDeposit(ctx, "alice", d("300"), "mpesa")
		require.NoError(t, err)

		ev := PaymentEvent{Reference: "DEP_TEST_REF", Amount: d("300"), Status: "success", Receipt: "QGH7TX"}
		require.NoError(t, svc.HandlePaymentEvent(ctx, ev))

		// At-least-once delivery: the duplicate must be a no-op.
		require.NoError(t, svc.HandlePaymentEvent(ctx, ev))

		w, err := svc.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(d("300")))
		assert.True(t, w.Pending.IsZero())

		record, err := svc.Store.TransactionByReference(ctx, "DEP_TEST_REF")
		require.NoError(t, err)
		assert.Equal(t, models.TxCompleted, record.Status)
		assert.Equal(t, "QGH7TX", record.Metadata["receipt"])
	})

	t.Run("failure releases pending without crediting", func(t *testing.T) {
		svc, _ := newWalletService(t)
		fund(t, svc, "alice", decimal.Zero)
		_, err := svc.InitiateDeposit(ctx, "alice", d("300"), "mpesa")
		require.NoError(t, err)

		require.NoError(t, svc.HandlePaymentEvent(ctx, PaymentEvent{
			Reference: "DEP_TEST_REF", Status: "failed", Detail: "user cancelled",
		}))

		w, err := svc.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		assert.True(t, w.Pending.IsZero())

		record, err := svc.Store.TransactionByReference(ctx, "DEP_TEST_REF")
		require.NoError(t, err)
		assert.Equal(t, models.TxFailed, record.Status)

		// A late success for a failed reference stays a no-op.
		require.NoError(t, svc.HandlePaymentEvent(ctx, PaymentEvent{
			Reference: "DEP_TEST_REF", Amount: d("300"), Status: "success",
		}))
		w, _ = svc.GetWallet(ctx, "alice")
		assert.True(t, w.Balance.IsZero())
	})

	t.Run("unknown reference is acknowledged", func(t *testing.T) {
		svc, _ := newWalletService(t)
		require.NoError(t, svc.HandlePaymentEvent(ctx, PaymentEvent{
			Reference: "NOPE", Amount: d("10"), Status: "success",
		}))
	})
}

func TestInvariantGuardRollsBack(t *testing.T) {
	svc, _ := newWalletService(t)
	ctx := context.Background()
	fund(t, svc, "alice", d("100"))

	// Refunding more than is locked would drive locked negative.
	_, err := svc.Apply(ctx, TransactionInput{
		UserID: "alice", Kind: models.TxRefund, Amount: d("50"), Reference: "bogus:refund",
	})
	require.Error(t, err)

	w, err := svc.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("100")))
	assert.True(t, w.Locked.IsZero())

	_, err = svc.Store.TransactionByReference(ctx, "bogus:refund")
	assert.ErrorIs(t, err, store.ErrNotFound, "failed mutation must not leave a record")
}
