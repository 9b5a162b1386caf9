package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Match statuses.
const (
	MatchPending    = "pending"     // waiting for an opponent
	MatchAccepted   = "accepted"    // opponent accepted, both stakes locked
	MatchInProgress = "in_progress" // match being played
	MatchCompleted  = "completed"   // proof submitted, awaiting confirmation
	MatchDisputed   = "disputed"    // under dispute, settlement blocked
	MatchSettled    = "settled"     // payout done, terminal
	MatchRefunded   = "refunded"    // stakes returned after dispute, terminal
	MatchCancelled  = "cancelled"   // creator cancelled, stake refunded
	MatchExpired    = "expired"     // timed out unaccepted/unplayed, refunded
)

// Match is a wagered 1v1 challenge. The escrow lifecycle is
// pending → accepted → in_progress → completed → settled, with disputed,
// cancelled and expired as the alternate exits. Only the match service
// mutates a match, always under a row lock.
type Match struct {
	ID          string          `json:"id" gorm:"primaryKey;type:uuid"`
	CreatorID   string          `json:"creator_id" gorm:"type:uuid;not null;index"`
	OpponentID  string          `json:"opponent_id,omitempty" gorm:"index"`
	Game        string          `json:"game" gorm:"not null"`
	WagerAmount decimal.Decimal `json:"wager_amount" gorm:"type:decimal(15,2);not null"`
	// FeeRate is the platform fee percentage snapshotted at creation so a
	// later config change cannot alter an in-flight wager.
	FeeRate     decimal.Decimal `json:"fee_rate" gorm:"type:decimal(5,2);not null;default:0"`
	PlatformFee decimal.Decimal `json:"platform_fee" gorm:"type:decimal(15,2);default:0"`
	WinnerID    string          `json:"winner_id,omitempty"`
	Status      string          `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	Rules             map[string]string `json:"rules,omitempty" gorm:"type:jsonb;serializer:json"`
	ProofSubmittedBy  string            `json:"proof_submitted_by,omitempty"`
	ProofURL          string            `json:"proof_url,omitempty"`
	ResultConfirmedBy string            `json:"result_confirmed_by,omitempty"` // user id or "system"

	// ExpiresAt is the acceptance deadline while pending/accepted and is
	// reset to the confirmation deadline when proof is submitted.
	ExpiresAt   *time.Time `json:"expires_at,omitempty" gorm:"index"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`

	Timestamps
}

// IsParticipant reports whether userID is the creator or the opponent.
func (m *Match) IsParticipant(userID string) bool {
	return userID != "" && (userID == m.CreatorID || userID == m.OpponentID)
}

// Opponent returns the other participant.
func (m *Match) Opponent(userID string) string {
	if userID == m.CreatorID {
		return m.OpponentID
	}
	return m.CreatorID
}

// Dispute statuses.
const (
	DisputePending  = "pending"
	DisputeResolved = "resolved"
)

// Dispute is raised against a completed match and freezes settlement until an
// arbiter resolves it.
type Dispute struct {
	ID         string     `json:"id" gorm:"primaryKey;type:uuid"`
	MatchID    string     `json:"match_id" gorm:"type:uuid;not null;index"`
	RaisedBy   string     `json:"raised_by" gorm:"type:uuid;not null"`
	Reason     string     `json:"reason" gorm:"type:text;not null"`
	Evidence   []string   `json:"evidence,omitempty" gorm:"type:jsonb;serializer:json"`
	Status     string     `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	Decision   string     `json:"decision,omitempty" gorm:"type:text"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Timestamps
}
