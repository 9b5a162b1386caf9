package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tournament statuses.
const (
	TournamentRegistration = "registration"
	TournamentInProgress   = "in_progress"
	TournamentCompleted    = "completed"
	TournamentCancelled    = "cancelled"
)

// Tournament formats.
const (
	FormatLeaderboard = "leaderboard"
	FormatKnockout    = "knockout"
)

// Tournament pools entry fees from up to MaxParticipants players. The prize
// pool is fixed at creation: pool = entryFee × maxParticipants, minus the
// platform fee. PrizeDistribution percentages are ranked (index 0 = 1st
// place) and must sum to 100.
type Tournament struct {
	ID                  string            `json:"id" gorm:"primaryKey;type:uuid"`
	Slug                string            `json:"slug" gorm:"uniqueIndex"`
	Name                string            `json:"name" gorm:"not null"`
	Game                string            `json:"game" gorm:"not null"`
	CreatorID           string            `json:"creator_id" gorm:"type:uuid;not null;index"`
	Format              string            `json:"format" gorm:"type:varchar(16);default:'leaderboard'"`
	EntryFee            decimal.Decimal   `json:"entry_fee" gorm:"type:decimal(15,2);not null"`
	MaxParticipants     int               `json:"max_participants" gorm:"not null"`
	CurrentParticipants int               `json:"current_participants" gorm:"default:0"`
	PrizePool           decimal.Decimal   `json:"prize_pool" gorm:"type:decimal(15,2);not null"`
	PlatformFee         decimal.Decimal   `json:"platform_fee" gorm:"type:decimal(15,2);not null"`
	PrizeDistribution   []decimal.Decimal `json:"prize_distribution" gorm:"type:jsonb;serializer:json"`
	Bracket             []BracketSlot     `json:"bracket,omitempty" gorm:"type:jsonb;serializer:json"`
	Winners             []string          `json:"winners,omitempty" gorm:"type:jsonb;serializer:json"` // ranked user ids
	PrizesDistributed   bool              `json:"prizes_distributed" gorm:"default:false"`
	Status              string            `json:"status" gorm:"type:varchar(16);default:'registration';index"`
	StartDate           time.Time         `json:"start_date"`
	ActualStartDate     *time.Time        `json:"actual_start_date,omitempty"`

	Timestamps
}

// BracketSlot is one first-round pairing in a knockout bracket. Player2 is
// empty on a bye.
type BracketSlot struct {
	Player1   string `json:"player1"`
	Player2   string `json:"player2,omitempty"`
	Winner    string `json:"winner,omitempty"`
	NextMatch int    `json:"next_match"`
}

// TournamentParticipant is the append-only roster entry, unique per
// (tournament, user).
type TournamentParticipant struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID string    `json:"tournament_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_tournament_user"`
	UserID       string    `json:"user_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_tournament_user"`
	Status       string    `json:"status" gorm:"type:varchar(16);default:'registered'"`
	JoinedAt     time.Time `json:"joined_at" gorm:"autoCreateTime"`
}
