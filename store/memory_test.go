package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankiekoifi/gamestake/models"
)

func TestMemoryAtomicRollback(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateWallet(ctx, &models.Wallet{ID: "w1", UserID: "alice"}))

	boom := errors.New("boom")
	err := m.Atomic(ctx, func(tx Store) error {
		w, err := tx.WalletByUserIDForUpdate(ctx, "alice")
		require.NoError(t, err)
		w.Balance = decimal.NewFromInt(100)
		require.NoError(t, tx.SaveWallet(ctx, w))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := m.WalletByUserID(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "failed scope must not commit")
}

func TestMemoryAtomicNested(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateWallet(ctx, &models.Wallet{ID: "w1", UserID: "alice"}))

	err := m.Atomic(ctx, func(tx Store) error {
		w, _ := tx.WalletByUserIDForUpdate(ctx, "alice")
		w.Balance = decimal.NewFromInt(50)
		require.NoError(t, tx.SaveWallet(ctx, w))

		// Inner failure rolls back only the inner scope.
		inner := tx.Atomic(ctx, func(tx2 Store) error {
			w2, _ := tx2.WalletByUserIDForUpdate(ctx, "alice")
			w2.Balance = decimal.NewFromInt(999)
			require.NoError(t, tx2.SaveWallet(ctx, w2))
			return errors.New("inner boom")
		})
		assert.Error(t, inner)

		w, _ = tx.WalletByUserID(ctx, "alice")
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
		return nil
	})
	require.NoError(t, err)

	w, err := m.WalletByUserID(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
}

func TestMemoryDuplicateReference(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &models.Transaction{ID: "t1", UserID: "alice", Reference: "ref-1"}
	require.NoError(t, m.CreateTransaction(ctx, first))

	dup := &models.Transaction{ID: "t2", UserID: "bob", Reference: "ref-1"}
	assert.ErrorIs(t, m.CreateTransaction(ctx, dup), ErrDuplicate)
}

func TestMemoryCloneIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateWallet(ctx, &models.Wallet{ID: "w1", UserID: "alice"}))

	w, err := m.WalletByUserID(ctx, "alice")
	require.NoError(t, err)
	w.Balance = decimal.NewFromInt(1000000)

	fresh, err := m.WalletByUserID(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, fresh.Balance.IsZero(), "mutating a returned entity must not touch the store")
}
