// Package store defines the persistence interface for the escrow core.
// PostgreSQL (via gorm) is the production implementation; the in-memory
// implementation backs tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/frankiekoifi/gamestake/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicate is returned when a unique constraint would be violated
// (transaction reference, tournament roster pair).
var ErrDuplicate = errors.New("store: duplicate record")

// Store is the transactional persistence contract. Mutations that must be
// all-or-nothing run inside Atomic; the ...ForUpdate getters acquire an
// exclusive lock on the row that is released when the Atomic scope ends, so
// conflicting operations on the same wallet/match/tournament serialize while
// unrelated rows proceed independently.
type Store interface {
	// Atomic runs fn in a single all-or-nothing scope. The Store handed to
	// fn shares that scope; nesting is allowed.
	Atomic(ctx context.Context, fn func(Store) error) error

	// Wallets
	CreateWallet(ctx context.Context, w *models.Wallet) error
	WalletByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	WalletByUserIDForUpdate(ctx context.Context, userID string) (*models.Wallet, error)
	SaveWallet(ctx context.Context, w *models.Wallet) error

	// Ledger records
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	TransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error)

	// Matches
	CreateMatch(ctx context.Context, m *models.Match) error
	MatchByID(ctx context.Context, id string) (*models.Match, error)
	MatchByIDForUpdate(ctx context.Context, id string) (*models.Match, error)
	SaveMatch(ctx context.Context, m *models.Match) error
	// SettleDueMatches returns completed matches whose confirmation deadline
	// has elapsed and which have no winner yet.
	SettleDueMatches(ctx context.Context, now time.Time) ([]models.Match, error)
	// ExpiredOpenMatches returns pending/accepted matches past their
	// acceptance deadline.
	ExpiredOpenMatches(ctx context.Context, now time.Time) ([]models.Match, error)

	// Tournaments
	CreateTournament(ctx context.Context, t *models.Tournament) error
	TournamentByID(ctx context.Context, id string) (*models.Tournament, error)
	TournamentByIDForUpdate(ctx context.Context, id string) (*models.Tournament, error)
	SaveTournament(ctx context.Context, t *models.Tournament) error
	CreateParticipant(ctx context.Context, p *models.TournamentParticipant) error
	ParticipantsByTournament(ctx context.Context, tournamentID string) ([]models.TournamentParticipant, error)

	// Disputes
	CreateDispute(ctx context.Context, d *models.Dispute) error
	DisputeByID(ctx context.Context, id string) (*models.Dispute, error)
	SaveDispute(ctx context.Context, d *models.Dispute) error

	// Stats
	IncrementUserStats(ctx context.Context, userID string, wins, losses int64) error
	UserByID(ctx context.Context, id string) (*models.User, error)
}
