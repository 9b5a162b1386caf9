package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/models"
	"github.com/frankiekoifi/gamestake/store"
)

const (
	// How long a challenge waits for an opponent, and how long the
	// non-submitting player has to confirm or dispute a submitted result.
	challengeTTL = 24 * time.Hour
	confirmTTL   = 24 * time.Hour

	// SystemActor marks settlements performed by the sweep rather than a
	// human confirmation.
	SystemActor = "system"
)

// MatchService drives a wagered match from challenge to settlement. Every
// transition runs inside one atomic scope with the match row locked, so
// concurrent accepts, confirms and the sweep serialize per match; money only
// moves through the wallet ledger.
type MatchService struct {
	Store    store.Store
	Wallet   *WalletService
	Notifier Notifier
	// FeeRate is the platform fee percentage (e.g. 10 for 10%), snapshotted
	// onto each match at creation.
	FeeRate decimal.Decimal
}

func NewMatchService(st store.Store, wallet *WalletService, n Notifier, feeRate decimal.Decimal) *MatchService {
	return &MatchService{Store: st, Wallet: wallet, Notifier: n, FeeRate: feeRate}
}

func matchRef(matchID, step, userID string) string {
	return fmt.Sprintf("match:%s:%s:%s", matchID, step, userID)
}

// CreateChallenge locks the creator's wager and opens a pending challenge
// with a 24h acceptance window. On insufficient funds no match is created.
func (s *MatchService) CreateChallenge(ctx context.Context, creatorID, game string, wager decimal.Decimal, rules map[string]string) (*models.Match, error) {
	if game == "" {
		return nil, fmt.Errorf("game is required")
	}
	if !wager.IsPositive() {
		return nil, ErrInvalidAmount
	}

	matchID := uuid.NewString()
	expires := time.Now().Add(challengeTTL)
	m := &models.Match{
		ID:          matchID,
		CreatorID:   creatorID,
		Game:        game,
		WagerAmount: wager,
		FeeRate:     s.FeeRate,
		Status:      models.MatchPending,
		Rules:       rules,
		ExpiresAt:   &expires,
	}

	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      creatorID,
			Kind:        models.TxMatchEntry,
			Amount:      wager,
			Reference:   matchRef(matchID, "entry", creatorID),
			Description: fmt.Sprintf("Stake locked for match %s", matchID),
			Metadata:    map[string]string{"match_id": matchID},
		}); err != nil {
			return err
		}
		return tx.CreateMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AcceptChallenge locks the opponent's stake and transitions the match to
// accepted. The state check runs under the match row lock, so exactly one of
// two concurrent accepts succeeds; the other sees ErrMatchNotAvailable.
func (s *MatchService) AcceptChallenge(ctx context.Context, matchID, opponentID string) (*models.Match, error) {
	var m *models.Match
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchPending {
			return ErrMatchNotAvailable
		}
		if opponentID == m.CreatorID {
			return ErrUnauthorized
		}

		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      opponentID,
			Kind:        models.TxMatchEntry,
			Amount:      m.WagerAmount,
			Reference:   matchRef(matchID, "entry", opponentID),
			Description: fmt.Sprintf("Stake locked for match %s", matchID),
			Metadata:    map[string]string{"match_id": matchID},
		}); err != nil {
			return err
		}

		now := time.Now()
		m.OpponentID = opponentID
		m.Status = models.MatchAccepted
		m.AcceptedAt = &now
		return tx.SaveMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(m.CreatorID, Event{
		Type:  "match_accepted",
		Title: "Challenge accepted!",
		Body:  fmt.Sprintf("Your challenge has been accepted by user %s", opponentID),
		Data:  map[string]string{"match_id": m.ID},
	})
	return m, nil
}

// StartMatch moves an accepted match to in_progress.
func (s *MatchService) StartMatch(ctx context.Context, matchID, userID string) (*models.Match, error) {
	var m *models.Match
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchAccepted {
			return ErrMatchNotAvailable
		}
		if !m.IsParticipant(userID) {
			return ErrUnauthorized
		}
		m.Status = models.MatchInProgress
		return tx.SaveMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitProof records the submitted result, moves the match to completed and
// starts the 24h confirmation window for the other player.
func (s *MatchService) SubmitProof(ctx context.Context, matchID, userID, proofURL string) (*models.Match, error) {
	var m *models.Match
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchAccepted && m.Status != models.MatchInProgress {
			return ErrMatchNotAvailable
		}
		if !m.IsParticipant(userID) {
			return ErrUnauthorized
		}

		now := time.Now()
		deadline := now.Add(confirmTTL)
		m.ProofSubmittedBy = userID
		m.ProofURL = proofURL
		m.Status = models.MatchCompleted
		m.CompletedAt = &now
		m.ExpiresAt = &deadline
		return tx.SaveMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(m.Opponent(userID), Event{
		Type:  "proof_submitted",
		Title: "Proof submitted",
		Body:  "Your opponent has submitted match proof. Please confirm or dispute.",
		Data:  map[string]string{"match_id": m.ID},
	})
	return m, nil
}

// ConfirmResult settles a completed match: the proof submitter is trusted as
// the winner once the other participant confirms. Confirming your own proof
// is not allowed.
func (s *MatchService) ConfirmResult(ctx context.Context, matchID, confirmerID string) (*models.Match, error) {
	var m *models.Match
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchCompleted {
			return ErrMatchNotAvailable
		}
		if m.WinnerID != "" {
			return ErrAlreadyResolved
		}
		if !m.IsParticipant(confirmerID) {
			return ErrUnauthorized
		}
		if confirmerID == m.ProofSubmittedBy {
			return ErrUnauthorized
		}
		return s.settleTx(ctx, tx, m, m.ProofSubmittedBy, confirmerID)
	})
	if err != nil {
		return nil, err
	}

	s.notifySettled(m)
	return m, nil
}

// settleTx pays out a match inside an open atomic scope: the loser's locked
// stake is settled out, the winner is credited 2×wager minus the platform
// fee against their own stake, and both stat counters move. The two wallet
// mutations are applied in ascending user id order so no pair of settlements
// can deadlock.
func (s *MatchService) settleTx(ctx context.Context, tx store.Store, m *models.Match, winnerID, confirmedBy string) error {
	loserID := m.Opponent(winnerID)
	if loserID == "" {
		return fmt.Errorf("match %s has no opponent to settle against", m.ID)
	}

	fee := m.WagerAmount.Mul(m.FeeRate).Div(decimal.NewFromInt(100)).Round(2)
	payout := m.WagerAmount.Mul(decimal.NewFromInt(2)).Sub(fee)

	release := func() error {
		_, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      loserID,
			Kind:        models.TxMatchRelease,
			Amount:      m.WagerAmount,
			Reference:   matchRef(m.ID, "release", loserID),
			Description: fmt.Sprintf("Stake settled for lost match %s", m.ID),
			Metadata:    map[string]string{"match_id": m.ID},
		})
		return err
	}
	credit := func() error {
		_, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      winnerID,
			Kind:        models.TxMatchWinning,
			Amount:      payout,
			Fee:         fee,
			Stake:       m.WagerAmount,
			Reference:   matchRef(m.ID, "winning", winnerID),
			Description: fmt.Sprintf("Winnings from match %s", m.ID),
			Metadata:    map[string]string{"match_id": m.ID},
		})
		return err
	}

	ops := []func() error{release, credit}
	if winnerID < loserID {
		ops = []func() error{credit, release}
	}
	for _, op := range ops {
		if err := op(); err != nil {
			return err
		}
	}

	now := time.Now()
	m.WinnerID = winnerID
	m.ResultConfirmedBy = confirmedBy
	m.PlatformFee = fee
	m.Status = models.MatchSettled
	m.SettledAt = &now
	if err := tx.SaveMatch(ctx, m); err != nil {
		return err
	}

	if err := tx.IncrementUserStats(ctx, winnerID, 1, 0); err != nil {
		return err
	}
	if err := tx.IncrementUserStats(ctx, loserID, 0, 1); err != nil {
		return err
	}

	// Settlement moves money; always leave an audit line.
	log.Printf("💰 [SETTLE] match=%s winner=%s loser=%s payout=%s fee=%s confirmed_by=%s",
		m.ID, winnerID, loserID, payout, fee, confirmedBy)
	return nil
}

func (s *MatchService) notifySettled(m *models.Match) {
	s.Notifier.Notify(m.WinnerID, Event{
		Type:  "match_won",
		Title: "You won!",
		Body:  fmt.Sprintf("Match %s settled in your favor.", m.ID),
		Data:  map[string]string{"match_id": m.ID},
	})
	s.Notifier.Notify(m.Opponent(m.WinnerID), Event{
		Type:  "match_lost",
		Title: "Match settled",
		Body:  fmt.Sprintf("Match %s was settled. Better luck next time.", m.ID),
		Data:  map[string]string{"match_id": m.ID},
	})
}

// CancelChallenge lets the creator withdraw a challenge nobody has accepted.
// The stake is refunded in full.
func (s *MatchService) CancelChallenge(ctx context.Context, matchID, userID string) (*models.Match, error) {
	var m *models.Match
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchPending {
			return ErrMatchNotAvailable
		}
		if userID != m.CreatorID {
			return ErrUnauthorized
		}

		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      m.CreatorID,
			Kind:        models.TxRefund,
			Amount:      m.WagerAmount,
			Reference:   matchRef(m.ID, "refund", m.CreatorID),
			Description: fmt.Sprintf("Stake refunded for cancelled match %s", m.ID),
			Metadata:    map[string]string{"match_id": m.ID},
		}); err != nil {
			return err
		}
		m.Status = models.MatchCancelled
		return tx.SaveMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateDispute freezes a completed match. While disputed, neither a manual
// confirm nor the sweep can settle it.
func (s *MatchService) CreateDispute(ctx context.Context, matchID, raiserID, reason string, evidence []string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("dispute reason is required")
	}

	var d *models.Dispute
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		m, err := tx.MatchByIDForUpdate(ctx, matchID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if m.Status != models.MatchCompleted {
			return ErrMatchNotAvailable
		}
		if !m.IsParticipant(raiserID) {
			return ErrUnauthorized
		}

		m.Status = models.MatchDisputed
		if err := tx.SaveMatch(ctx, m); err != nil {
			return err
		}

		d = &models.Dispute{
			ID:       uuid.NewString(),
			MatchID:  matchID,
			RaisedBy: raiserID,
			Reason:   reason,
			Evidence: evidence,
			Status:   models.DisputePending,
		}
		return tx.CreateDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("⚖️ [DISPUTE] match=%s raised_by=%s dispute=%s", matchID, raiserID, d.ID)
	return d, nil
}

// ResolveDispute applies the arbitration outcome. With a winner the match
// settles through the regular payout path; with winnerID empty both stakes
// are refunded and the match ends refunded.
func (s *MatchService) ResolveDispute(ctx context.Context, disputeID, resolverID, winnerID string) (*models.Dispute, error) {
	var d *models.Dispute
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		d, err = tx.DisputeByID(ctx, disputeID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMatchNotAvailable
		}
		if err != nil {
			return err
		}
		if d.Status == models.DisputeResolved {
			return ErrAlreadyResolved
		}

		m, err := tx.MatchByIDForUpdate(ctx, d.MatchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchDisputed {
			return ErrMatchNotAvailable
		}

		if winnerID == "" {
			if err := s.refundBothTx(ctx, tx, m, "disputed"); err != nil {
				return err
			}
			now := time.Now()
			m.Status = models.MatchRefunded
			m.ResultConfirmedBy = resolverID
			m.SettledAt = &now
			if err := tx.SaveMatch(ctx, m); err != nil {
				return err
			}
			d.Decision = "refund"
		} else {
			if !m.IsParticipant(winnerID) {
				return ErrUnauthorized
			}
			if err := s.settleTx(ctx, tx, m, winnerID, resolverID); err != nil {
				return err
			}
			d.Decision = fmt.Sprintf("winner:%s", winnerID)
		}

		now := time.Now()
		d.Status = models.DisputeResolved
		d.ResolvedBy = resolverID
		d.ResolvedAt = &now
		return tx.SaveDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("⚖️ [DISPUTE] resolved dispute=%s by=%s decision=%s", d.ID, resolverID, d.Decision)
	return d, nil
}

// refundBothTx returns both locked stakes, in ascending user id order.
func (s *MatchService) refundBothTx(ctx context.Context, tx store.Store, m *models.Match, why string) error {
	users := []string{m.CreatorID}
	if m.OpponentID != "" {
		if m.OpponentID < m.CreatorID {
			users = []string{m.OpponentID, m.CreatorID}
		} else {
			users = append(users, m.OpponentID)
		}
	}
	for _, userID := range users {
		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      userID,
			Kind:        models.TxRefund,
			Amount:      m.WagerAmount,
			Reference:   matchRef(m.ID, "refund", userID),
			Description: fmt.Sprintf("Stake refunded for %s match %s", why, m.ID),
			Metadata:    map[string]string{"match_id": m.ID},
		}); err != nil {
			return err
		}
	}
	return nil
}

// AutoResolveDue force-settles completed matches whose confirmation window
// has elapsed without a response: the submitted proof is trusted by default
// and the submitter wins. Each match settles in its own atomic scope under
// the same match lock used by ConfirmResult, so a race between a human
// confirmation and the sweep cannot double-settle; one failure is logged and
// retried next cycle without stopping the pass. Disputed matches are never
// touched (they left the completed state).
func (s *MatchService) AutoResolveDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Store.SettleDueMatches(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due matches: %w", err)
	}

	settled := 0
	for i := range due {
		matchID := due[i].ID
		err := s.Store.Atomic(ctx, func(tx store.Store) error {
			m, err := tx.MatchByIDForUpdate(ctx, matchID)
			if err != nil {
				return err
			}
			// Re-check under the lock: a confirm or dispute may have won
			// the race since the listing.
			if m.Status != models.MatchCompleted || m.WinnerID != "" ||
				m.ExpiresAt == nil || m.ExpiresAt.After(now) {
				return nil
			}
			return s.settleTx(ctx, tx, m, m.ProofSubmittedBy, SystemActor)
		})
		if err != nil {
			log.Printf("❌ [SWEEP] auto-resolve failed for match %s: %v", matchID, err)
			continue
		}
		settled++
	}
	return settled, nil
}

// ExpireOpen refunds matches that never got played: pending or accepted past
// their acceptance deadline have every locked stake returned and move to
// expired. Like AutoResolveDue, each match is independently transactional.
func (s *MatchService) ExpireOpen(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.Store.ExpiredOpenMatches(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired matches: %w", err)
	}

	expired := 0
	for i := range stale {
		matchID := stale[i].ID
		err := s.Store.Atomic(ctx, func(tx store.Store) error {
			m, err := tx.MatchByIDForUpdate(ctx, matchID)
			if err != nil {
				return err
			}
			if m.Status != models.MatchPending && m.Status != models.MatchAccepted {
				return nil
			}
			if m.ExpiresAt == nil || m.ExpiresAt.After(now) {
				return nil
			}
			if err := s.refundBothTx(ctx, tx, m, "expired"); err != nil {
				return err
			}
			m.Status = models.MatchExpired
			return tx.SaveMatch(ctx, m)
		})
		if err != nil {
			log.Printf("❌ [SWEEP] expiry failed for match %s: %v", matchID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// GetMatch returns a match by id.
func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	m, err := s.Store.MatchByID(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMatchNotAvailable
	}
	return m, err
}
