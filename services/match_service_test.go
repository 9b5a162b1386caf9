package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankiekoifi/gamestake/models"
)

func newMatchService(t *testing.T) (*MatchService, *WalletService) {
	t.Helper()
	wallet, _ := newWalletService(t)
	svc := NewMatchService(wallet.Store, wallet, LogNotifier{}, d("20"))
	return svc, wallet
}

func TestCreateChallenge(t *testing.T) {
	svc, wallet := newMatchService(t)
	ctx := context.Background()

	t.Run("locks the creator stake", func(t *testing.T) {
		fund(t, wallet, "alice", d("1000"))

		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), map[string]string{"mode": "1v1"})
		require.NoError(t, err)
		assert.Equal(t, models.MatchPending, m.Status)
		require.NotNil(t, m.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(challengeTTL), *m.ExpiresAt, time.Minute)

		w, err := wallet.GetWallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(d("1000")))
		assert.True(t, w.Locked.Equal(d("200")))
	})

	t.Run("insufficient funds creates nothing", func(t *testing.T) {
		fund(t, wallet, "poor", d("50"))

		_, err := svc.CreateChallenge(ctx, "poor", "fifa", d("200"), nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		w, _ := wallet.GetWallet(ctx, "poor")
		assert.True(t, w.Locked.IsZero())
	})
}

func TestAcceptChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("locks the opponent stake", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		fund(t, wallet, "bob", d("500"))

		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)

		m, err = svc.AcceptChallenge(ctx, m.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, models.MatchAccepted, m.Status)
		assert.Equal(t, "bob", m.OpponentID)

		w, _ := wallet.GetWallet(ctx, "bob")
		assert.True(t, w.Locked.Equal(d("200")))
	})

	t.Run("creator cannot accept own challenge", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)

		_, err = svc.AcceptChallenge(ctx, m.ID, "alice")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("exactly one concurrent accept wins", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		for _, u := range []string{"bob", "carol", "dave"} {
			fund(t, wallet, u, d("500"))
		}
		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for _, u := range []string{"bob", "carol", "dave"} {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				_, err := svc.AcceptChallenge(ctx, m.ID, userID)
				errs <- err
			}(u)
		}
		wg.Wait()
		close(errs)

		wins := 0
		for err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrMatchNotAvailable)
			}
		}
		assert.Equal(t, 1, wins)

		// Only the winner's stake is locked.
		locked := decimal.Zero
		for _, u := range []string{"bob", "carol", "dave"} {
			w, _ := wallet.GetWallet(ctx, u)
			locked = locked.Add(w.Locked)
		}
		assert.True(t, locked.Equal(d("200")))
	})
}

// playMatch drives a funded pair through create, accept and proof submission.
func playMatch(t *testing.T, svc *MatchService, wallet *WalletService, wager decimal.Decimal) *models.Match {
	t.Helper()
	ctx := context.Background()
	fund(t, wallet, "alice", d("1000"))
	fund(t, wallet, "bob", d("500"))

	m, err := svc.CreateChallenge(ctx, "alice", "fifa", wager, nil)
	require.NoError(t, err)
	m, err = svc.AcceptChallenge(ctx, m.ID, "bob")
	require.NoError(t, err)
	m, err = svc.SubmitProof(ctx, m.ID, "alice", "https://cdn.example.com/proof.png")
	require.NoError(t, err)
	require.Equal(t, models.MatchCompleted, m.Status)
	return m
}

func TestConfirmResult(t *testing.T) {
	ctx := context.Background()

	t.Run("settles to the proof submitter", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		m, err := svc.ConfirmResult(ctx, m.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, models.MatchSettled, m.Status)
		assert.Equal(t, "alice", m.WinnerID)
		assert.True(t, m.PlatformFee.Equal(d("40")))

		// wager 200, fee 20% of wager = 40, payout 360
		aw, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, aw.Balance.Equal(d("1160")), "winner balance %s", aw.Balance)
		assert.True(t, aw.Locked.IsZero())

		bw, _ := wallet.GetWallet(ctx, "bob")
		assert.True(t, bw.Balance.Equal(d("300")), "loser balance %s", bw.Balance)
		assert.True(t, bw.Locked.IsZero())

		winner, err := svc.Store.UserByID(ctx, "alice")
		require.NoError(t, err)
		assert.EqualValues(t, 1, winner.TotalWins)
		loser, err := svc.Store.UserByID(ctx, "bob")
		require.NoError(t, err)
		assert.EqualValues(t, 1, loser.TotalLosses)
	})

	t.Run("submitter cannot confirm own proof", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		_, err := svc.ConfirmResult(ctx, m.ID, "alice")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("outsider cannot confirm", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		_, err := svc.ConfirmResult(ctx, m.ID, "mallory")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("double confirm is rejected", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		_, err := svc.ConfirmResult(ctx, m.ID, "bob")
		require.NoError(t, err)
		_, err = svc.ConfirmResult(ctx, m.ID, "bob")
		assert.ErrorIs(t, err, ErrMatchNotAvailable)
	})
}

func TestCancelChallenge(t *testing.T) {
	svc, wallet := newMatchService(t)
	ctx := context.Background()
	fund(t, wallet, "alice", d("1000"))
	fund(t, wallet, "bob", d("500"))

	m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
	require.NoError(t, err)

	t.Run("only the creator may cancel", func(t *testing.T) {
		_, err := svc.CancelChallenge(ctx, m.ID, "bob")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("refunds the stake", func(t *testing.T) {
		m, err := svc.CancelChallenge(ctx, m.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.MatchCancelled, m.Status)

		w, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, w.Balance.Equal(d("1000")))
		assert.True(t, w.Locked.IsZero())
	})

	t.Run("accepted matches cannot be cancelled", func(t *testing.T) {
		m2, err := svc.CreateChallenge(ctx, "alice", "fifa", d("100"), nil)
		require.NoError(t, err)
		_, err = svc.AcceptChallenge(ctx, m2.ID, "bob")
		require.NoError(t, err)

		_, err = svc.CancelChallenge(ctx, m2.ID, "alice")
		assert.ErrorIs(t, err, ErrMatchNotAvailable)
	})
}

func TestDisputes(t *testing.T) {
	ctx := context.Background()

	t.Run("dispute blocks confirmation and the sweep", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		dp, err := svc.CreateDispute(ctx, m.ID, "bob", "score was faked", []string{"https://cdn.example.com/ev.png"})
		require.NoError(t, err)
		assert.Equal(t, models.DisputePending, dp.Status)

		_, err = svc.ConfirmResult(ctx, m.ID, "bob")
		assert.ErrorIs(t, err, ErrMatchNotAvailable)

		n, err := svc.AutoResolveDue(ctx, time.Now().Add(48*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("resolving with a winner settles normally", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))
		dp, err := svc.CreateDispute(ctx, m.ID, "bob", "score was faked", nil)
		require.NoError(t, err)

		dp, err = svc.ResolveDispute(ctx, dp.ID, "admin-1", "bob")
		require.NoError(t, err)
		assert.Equal(t, models.DisputeResolved, dp.Status)

		bw, _ := wallet.GetWallet(ctx, "bob")
		assert.True(t, bw.Balance.Equal(d("660")), "disputed winner balance %s", bw.Balance)
		aw, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, aw.Balance.Equal(d("800")))
	})

	t.Run("resolving without a winner refunds both", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))
		dp, err := svc.CreateDispute(ctx, m.ID, "bob", "unplayable lag", nil)
		require.NoError(t, err)

		_, err = svc.ResolveDispute(ctx, dp.ID, "admin-1", "")
		require.NoError(t, err)

		got, err := svc.GetMatch(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchRefunded, got.Status)

		aw, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, aw.Balance.Equal(d("1000")))
		assert.True(t, aw.Locked.IsZero())
		bw, _ := wallet.GetWallet(ctx, "bob")
		assert.True(t, bw.Balance.Equal(d("500")))
		assert.True(t, bw.Locked.IsZero())
	})

	t.Run("a dispute cannot be resolved twice", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))
		dp, err := svc.CreateDispute(ctx, m.ID, "bob", "score was faked", nil)
		require.NoError(t, err)

		_, err = svc.ResolveDispute(ctx, dp.ID, "admin-1", "bob")
		require.NoError(t, err)
		_, err = svc.ResolveDispute(ctx, dp.ID, "admin-1", "alice")
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	})
}

func TestAutoResolveDue(t *testing.T) {
	ctx := context.Background()

	t.Run("settles past-deadline matches to the submitter", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		m := playMatch(t, svc, wallet, d("200"))

		// Nothing due before the confirmation window closes.
		n, err := svc.AutoResolveDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = svc.AutoResolveDue(ctx, time.Now().Add(confirmTTL+time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := svc.GetMatch(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchSettled, got.Status)
		assert.Equal(t, "alice", got.WinnerID)
		assert.Equal(t, SystemActor, got.ResultConfirmedBy)

		aw, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, aw.Balance.Equal(d("1160")))
	})

	t.Run("is idempotent across runs", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		playMatch(t, svc, wallet, d("200"))

		later := time.Now().Add(confirmTTL + time.Minute)
		n, err := svc.AutoResolveDue(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = svc.AutoResolveDue(ctx, later)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestExpireOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds an unaccepted challenge", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)

		n, err := svc.ExpireOpen(ctx, time.Now().Add(challengeTTL+time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := svc.GetMatch(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchExpired, got.Status)

		w, _ := wallet.GetWallet(ctx, "alice")
		assert.True(t, w.Balance.Equal(d("1000")))
		assert.True(t, w.Locked.IsZero())
	})

	t.Run("refunds both sides of a stale accepted match", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		fund(t, wallet, "bob", d("500"))
		m, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)
		_, err = svc.AcceptChallenge(ctx, m.ID, "bob")
		require.NoError(t, err)

		n, err := svc.ExpireOpen(ctx, time.Now().Add(challengeTTL+time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		for _, u := range []string{"alice", "bob"} {
			w, _ := wallet.GetWallet(ctx, u)
			assert.True(t, w.Locked.IsZero(), "user %s still has locked funds", u)
		}
	})

	t.Run("leaves fresh challenges alone", func(t *testing.T) {
		svc, wallet := newMatchService(t)
		fund(t, wallet, "alice", d("1000"))
		_, err := svc.CreateChallenge(ctx, "alice", "fifa", d("200"), nil)
		require.NoError(t, err)

		n, err := svc.ExpireOpen(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
