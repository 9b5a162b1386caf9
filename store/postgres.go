package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frankiekoifi/gamestake/models"
)

// Postgres implements Store on top of gorm. Atomic maps to a database
// transaction (nested calls become savepoints) and the ForUpdate getters take
// SELECT ... FOR UPDATE row locks, so the serialization contract is enforced
// by the database itself.
//
// Open the gorm.DB with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// AutoMigrate creates/updates the schema for every model owned by this core.
func (s *Postgres) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Wallet{},
		&models.Transaction{},
		&models.Match{},
		&models.Dispute{},
		&models.Tournament{},
		&models.TournamentParticipant{},
		&models.User{},
	)
}

func (s *Postgres) Atomic(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Postgres{db: tx})
	})
}

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

// --- Wallets ---

func (s *Postgres) CreateWallet(ctx context.Context, w *models.Wallet) error {
	return wrap(s.db.WithContext(ctx).Create(w).Error)
}

func (s *Postgres) WalletByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, wrap(err)
	}
	return &w, nil
}

func (s *Postgres) WalletByUserIDForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&w).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &w, nil
}

func (s *Postgres) SaveWallet(ctx context.Context, w *models.Wallet) error {
	return wrap(s.db.WithContext(ctx).Save(w).Error)
}

// --- Ledger records ---

func (s *Postgres) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	return wrap(s.db.WithContext(ctx).Create(t).Error)
}

func (s *Postgres) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return wrap(s.db.WithContext(ctx).Save(t).Error)
}

func (s *Postgres) TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&t).Error; err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

func (s *Postgres) TransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&txns).Error
	return txns, wrap(err)
}

// --- Matches ---

func (s *Postgres) CreateMatch(ctx context.Context, m *models.Match) error {
	return wrap(s.db.WithContext(ctx).Create(m).Error)
}

func (s *Postgres) MatchByID(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (s *Postgres) MatchByIDForUpdate(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (s *Postgres) SaveMatch(ctx context.Context, m *models.Match) error {
	return wrap(s.db.WithContext(ctx).Save(m).Error)
}

func (s *Postgres) SettleDueMatches(ctx context.Context, now time.Time) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ? AND (winner_id IS NULL OR winner_id = '')",
			models.MatchCompleted, now).
		Find(&matches).Error
	return matches, wrap(err)
}

func (s *Postgres) ExpiredOpenMatches(ctx context.Context, now time.Time) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]string{models.MatchPending, models.MatchAccepted}, now).
		Find(&matches).Error
	return matches, wrap(err)
}

// --- Tournaments ---

func (s *Postgres) CreateTournament(ctx context.Context, t *models.Tournament) error {
	return wrap(s.db.WithContext(ctx).Create(t).Error)
}

func (s *Postgres) TournamentByID(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

func (s *Postgres) TournamentByIDForUpdate(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

func (s *Postgres) SaveTournament(ctx context.Context, t *models.Tournament) error {
	return wrap(s.db.WithContext(ctx).Save(t).Error)
}

func (s *Postgres) CreateParticipant(ctx context.Context, p *models.TournamentParticipant) error {
	return wrap(s.db.WithContext(ctx).Create(p).Error)
}

func (s *Postgres) ParticipantsByTournament(ctx context.Context, tournamentID string) ([]models.TournamentParticipant, error) {
	var ps []models.TournamentParticipant
	err := s.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("joined_at ASC").
		Find(&ps).Error
	return ps, wrap(err)
}

// --- Disputes ---

func (s *Postgres) CreateDispute(ctx context.Context, d *models.Dispute) error {
	return wrap(s.db.WithContext(ctx).Create(d).Error)
}

func (s *Postgres) DisputeByID(ctx context.Context, id string) (*models.Dispute, error) {
	var d models.Dispute
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, wrap(err)
	}
	return &d, nil
}

func (s *Postgres) SaveDispute(ctx context.Context, d *models.Dispute) error {
	return wrap(s.db.WithContext(ctx).Save(d).Error)
}

// --- Stats ---

func (s *Postgres) IncrementUserStats(ctx context.Context, userID string, wins, losses int64) error {
	user := models.User{ID: userID, TotalWins: wins, TotalLosses: losses}
	return wrap(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_wins":   gorm.Expr("users.total_wins + ?", wins),
			"total_losses": gorm.Expr("users.total_losses + ?", losses),
			"updated_at":   time.Now(),
		}),
	}).Create(&user).Error)
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}
