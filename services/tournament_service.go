package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/models"
	"github.com/frankiekoifi/gamestake/store"
)

// TournamentService pools entry fees into a fixed prize pool and pays ranked
// winners once. All money moves through the wallet ledger; the roster's
// unique (tournament, user) constraint is the double-join guard of last
// resort under concurrency.
type TournamentService struct {
	Store    store.Store
	Wallet   *WalletService
	Notifier Notifier
	// FeeRate is the platform fee percentage taken off the gross pool.
	FeeRate decimal.Decimal
}

func NewTournamentService(st store.Store, wallet *WalletService, n Notifier, feeRate decimal.Decimal) *TournamentService {
	return &TournamentService{Store: st, Wallet: wallet, Notifier: n, FeeRate: feeRate}
}

func tournamentRef(tournamentID, step, userID string) string {
	return fmt.Sprintf("tournament:%s:%s:%s", tournamentID, step, userID)
}

// CreateTournamentInput carries the creation parameters. PrizeDistribution
// defaults to [50, 30, 20] when empty.
type CreateTournamentInput struct {
	CreatorID         string
	Name              string
	Game              string
	Format            string
	EntryFee          decimal.Decimal
	MaxParticipants   int
	PrizeDistribution []decimal.Decimal
	StartDate         time.Time
}

var defaultDistribution = []decimal.Decimal{
	decimal.NewFromInt(50),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
}

// CreateTournament fixes the prize pool up front (entryFee × maxParticipants
// minus the platform cut) and enrolls the creator as the first participant,
// locking their entry fee in the same atomic scope.
func (s *TournamentService) CreateTournament(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	if in.Name == "" || in.Game == "" {
		return nil, fmt.Errorf("name and game are required")
	}
	if !in.EntryFee.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if in.MaxParticipants < 2 {
		return nil, fmt.Errorf("max_participants must be at least 2")
	}

	format := in.Format
	if format == "" {
		format = models.FormatLeaderboard
	}
	if format != models.FormatLeaderboard && format != models.FormatKnockout {
		return nil, fmt.Errorf("unknown format %q", format)
	}

	dist := in.PrizeDistribution
	if len(dist) == 0 {
		dist = defaultDistribution
	}
	sum := decimal.Zero
	for _, p := range dist {
		if p.IsNegative() {
			return nil, ErrInvalidDistribution
		}
		sum = sum.Add(p)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		return nil, ErrInvalidDistribution
	}
	if len(dist) > in.MaxParticipants {
		return nil, ErrInvalidDistribution
	}

	gross := in.EntryFee.Mul(decimal.NewFromInt(int64(in.MaxParticipants)))
	platformFee := gross.Mul(s.FeeRate).Div(decimal.NewFromInt(100)).Round(2)
	pool := gross.Sub(platformFee)

	id := uuid.NewString()
	t := &models.Tournament{
		ID:                  id,
		Slug:                slug.Make(in.Name) + "-" + id[:8],
		Name:                in.Name,
		Game:                in.Game,
		CreatorID:           in.CreatorID,
		Format:              format,
		EntryFee:            in.EntryFee,
		MaxParticipants:     in.MaxParticipants,
		CurrentParticipants: 1,
		PrizePool:           pool,
		PlatformFee:         platformFee,
		PrizeDistribution:   dist,
		Status:              models.TournamentRegistration,
		StartDate:           in.StartDate,
	}

	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      in.CreatorID,
			Kind:        models.TxTournamentEntry,
			Amount:      in.EntryFee,
			Reference:   tournamentRef(id, "entry", in.CreatorID),
			Description: fmt.Sprintf("Entry fee for tournament %s", in.Name),
			Metadata:    map[string]string{"tournament_id": id},
		}); err != nil {
			return err
		}
		if err := tx.CreateTournament(ctx, t); err != nil {
			return err
		}
		return tx.CreateParticipant(ctx, &models.TournamentParticipant{
			ID:           uuid.NewString(),
			TournamentID: id,
			UserID:       in.CreatorID,
			Status:       "registered",
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🏆 [TOURNAMENT] created %s (%s) pool=%s fee=%s", t.Name, t.ID, pool, platformFee)
	return t, nil
}

// JoinTournament locks the entry fee and appends the user to the roster.
// Filling the last slot flips the tournament to in_progress. The tournament
// row lock serializes concurrent joins racing for the final seat.
func (s *TournamentService) JoinTournament(ctx context.Context, tournamentID, userID string) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		t, err = tx.TournamentByIDForUpdate(ctx, tournamentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTournamentNotAvailable
		}
		if err != nil {
			return err
		}
		if t.Status != models.TournamentRegistration {
			return ErrTournamentNotAvailable
		}
		if t.CurrentParticipants >= t.MaxParticipants {
			return ErrTournamentFull
		}

		participants, err := tx.ParticipantsByTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.UserID == userID {
				return ErrAlreadyJoined
			}
		}

		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      userID,
			Kind:        models.TxTournamentEntry,
			Amount:      t.EntryFee,
			Reference:   tournamentRef(tournamentID, "entry", userID),
			Description: fmt.Sprintf("Entry fee for tournament %s", t.Name),
			Metadata:    map[string]string{"tournament_id": tournamentID},
		}); err != nil {
			return err
		}

		if err := tx.CreateParticipant(ctx, &models.TournamentParticipant{
			ID:           uuid.NewString(),
			TournamentID: tournamentID,
			UserID:       userID,
			Status:       "registered",
		}); errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyJoined
		} else if err != nil {
			return err
		}

		t.CurrentParticipants++
		if t.CurrentParticipants == t.MaxParticipants {
			now := time.Now()
			t.Status = models.TournamentInProgress
			t.ActualStartDate = &now
		}
		return tx.SaveTournament(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	if t.Status == models.TournamentInProgress {
		s.Notifier.Notify(t.CreatorID, Event{
			Type:  "tournament_started",
			Title: "Tournament full",
			Body:  fmt.Sprintf("%s is full and has started.", t.Name),
			Data:  map[string]string{"tournament_id": t.ID},
		})
	}
	return t, nil
}

// GenerateBracket shuffles the roster into first-round knockout pairings. An
// odd participant count gives the last slot a bye.
func (s *TournamentService) GenerateBracket(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		t, err = tx.TournamentByIDForUpdate(ctx, tournamentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTournamentNotAvailable
		}
		if err != nil {
			return err
		}
		if t.Format != models.FormatKnockout {
			return ErrWrongFormat
		}
		if t.Status != models.TournamentInProgress {
			return ErrTournamentNotAvailable
		}

		participants, err := tx.ParticipantsByTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		ids := make([]string, len(participants))
		for i, p := range participants {
			ids[i] = p.UserID
		}
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		var bracket []models.BracketSlot
		for i := 0; i < len(ids); i += 2 {
			slot := models.BracketSlot{Player1: ids[i], NextMatch: len(bracket) / 2}
			if i+1 < len(ids) {
				slot.Player2 = ids[i+1]
			}
			bracket = append(bracket, slot)
		}
		t.Bracket = bracket
		return tx.SaveTournament(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CompleteTournament records the ranked winners and settles all prizes in
// one pass.
func (s *TournamentService) CompleteTournament(ctx context.Context, tournamentID string, winners []string) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		t, err = tx.TournamentByIDForUpdate(ctx, tournamentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTournamentNotAvailable
		}
		if err != nil {
			return err
		}
		if t.Status != models.TournamentInProgress {
			return ErrTournamentNotAvailable
		}
		if len(winners) < len(t.PrizeDistribution) {
			return fmt.Errorf("need %d ranked winners, got %d", len(t.PrizeDistribution), len(winners))
		}

		participants, err := tx.ParticipantsByTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		roster := make(map[string]bool, len(participants))
		for _, p := range participants {
			roster[p.UserID] = true
		}
		seen := make(map[string]bool, len(winners))
		for _, w := range winners {
			if !roster[w] {
				return fmt.Errorf("winner %s is not a participant", w)
			}
			if seen[w] {
				return fmt.Errorf("winner %s listed twice", w)
			}
			seen[w] = true
		}

		t.Winners = winners
		t.Status = models.TournamentCompleted
		if err := tx.SaveTournament(ctx, t); err != nil {
			return err
		}

		return s.distributeTx(ctx, tx, t, participants)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DistributePrizes settles a completed tournament whose payouts have not run
// yet. CompleteTournament normally does this inline; this entry point exists
// to retry a tournament left completed but unpaid.
func (s *TournamentService) DistributePrizes(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	var t *models.Tournament
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		t, err = tx.TournamentByIDForUpdate(ctx, tournamentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTournamentNotAvailable
		}
		if err != nil {
			return err
		}
		if t.Status != models.TournamentCompleted {
			return ErrTournamentNotAvailable
		}
		if t.PrizesDistributed {
			return ErrAlreadyResolved
		}
		participants, err := tx.ParticipantsByTournament(ctx, tournamentID)
		if err != nil {
			return err
		}
		return s.distributeTx(ctx, tx, t, participants)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// distributeTx pays each ranked winner their percentage of the pool and
// settles every other participant's locked entry fee out. Runs inside an
// open atomic scope; PrizesDistributed plus the deterministic references
// make a replay after a partial failure a no-op for work already done.
// Wallet mutations go in ascending user id order.
func (s *TournamentService) distributeTx(ctx context.Context, tx store.Store, t *models.Tournament, participants []models.TournamentParticipant) error {
	if t.PrizesDistributed {
		return nil
	}

	rank := make(map[string]int, len(t.Winners))
	for i, w := range t.Winners {
		rank[w] = i
	}

	users := make([]string, len(participants))
	for i, p := range participants {
		users[i] = p.UserID
	}
	sort.Strings(users)

	hundred := decimal.NewFromInt(100)
	for _, userID := range users {
		if i, won := rank[userID]; won && i < len(t.PrizeDistribution) {
			prize := t.PrizePool.Mul(t.PrizeDistribution[i]).Div(hundred).Round(2)
			if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
				UserID:      userID,
				Kind:        models.TxTournamentWinning,
				Amount:      prize,
				Stake:       t.EntryFee,
				Reference:   tournamentRef(t.ID, "prize", userID),
				Description: fmt.Sprintf("Prize for rank %d in tournament %s", i+1, t.Name),
				Metadata:    map[string]string{"tournament_id": t.ID},
			}); err != nil {
				return err
			}
			continue
		}
		// Entry fee was consumed by the pool; settle the hold out.
		if _, err := s.Wallet.ApplyTx(ctx, tx, TransactionInput{
			UserID:      userID,
			Kind:        models.TxMatchRelease,
			Amount:      t.EntryFee,
			Reference:   tournamentRef(t.ID, "release", userID),
			Description: fmt.Sprintf("Entry fee settled for tournament %s", t.Name),
			Metadata:    map[string]string{"tournament_id": t.ID},
		}); err != nil {
			return err
		}
	}

	t.PrizesDistributed = true
	if err := tx.SaveTournament(ctx, t); err != nil {
		return err
	}

	log.Printf("🏆 [TOURNAMENT] prizes distributed for %s (%s) pool=%s winners=%v",
		t.Name, t.ID, t.PrizePool, t.Winners)

	for i, w := range t.Winners {
		if i >= len(t.PrizeDistribution) {
			break
		}
		s.Notifier.Notify(w, Event{
			Type:  "tournament_prize",
			Title: "Tournament prize",
			Body:  fmt.Sprintf("You placed #%d in %s!", i+1, t.Name),
			Data:  map[string]string{"tournament_id": t.ID},
		})
	}
	return nil
}

// GetTournament returns a tournament by id.
func (s *TournamentService) GetTournament(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	t, err := s.Store.TournamentByID(ctx, tournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotAvailable
	}
	return t, err
}

// Participants returns the roster for a tournament.
func (s *TournamentService) Participants(ctx context.Context, tournamentID string) ([]models.TournamentParticipant, error) {
	return s.Store.ParticipantsByTournament(ctx, tournamentID)
}
