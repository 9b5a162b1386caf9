package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction kinds. Every ledger mutation is one of these.
const (
	TxDeposit           = "deposit"
	TxWithdrawal        = "withdrawal"
	TxMatchEntry        = "match_entry"
	TxMatchRelease      = "match_release"
	TxMatchWinning      = "match_winning"
	TxTournamentEntry   = "tournament_entry"
	TxTournamentWinning = "tournament_winning"
	TxFeeDeduction      = "fee_deduction"
	TxRefund            = "refund"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxReversed  = "reversed"
)

// Wallet holds a user's settled funds. Balance is everything the user owns,
// Locked is the portion committed to in-flight matches/tournaments, Pending
// tracks deposits awaiting gateway settlement. Invariant after every ledger
// operation: Balance >= 0 and Locked <= Balance.
//
// Wallets are mutated only through the wallet service and are soft-retired,
// never deleted.
type Wallet struct {
	ID        string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    string          `json:"user_id" gorm:"type:uuid;not null;uniqueIndex"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(15,2);not null;default:0"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(15,2);not null;default:0"`
	Pending   decimal.Decimal `json:"pending" gorm:"type:decimal(15,2);not null;default:0"`
	Currency  string          `json:"currency" gorm:"type:varchar(8);default:'KES'"`
	Version   int64           `json:"version" gorm:"default:0"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt  `json:"-" gorm:"index"`
}

// Available is the amount the user may withdraw or stake.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Locked)
}

// Transaction is the append-only ledger record. Once Status is completed the
// record is immutable; a correction is a new compensating record, never an
// edit. Reference is the idempotency key: applying the same reference twice
// returns the original record unchanged.
//
// NetAmount is the signed effect the record had on Wallet.Balance, so for any
// wallet the sum of NetAmount over completed records equals the balance moved
// since the wallet was opened.
type Transaction struct {
	ID            string            `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        string            `json:"user_id" gorm:"type:uuid;not null;index"`
	WalletID      string            `json:"wallet_id" gorm:"type:uuid;not null;index"`
	Kind          string            `json:"kind" gorm:"type:varchar(32);not null"`
	Amount        decimal.Decimal   `json:"amount" gorm:"type:decimal(15,2);not null"`
	Fee           decimal.Decimal   `json:"fee" gorm:"type:decimal(15,2);not null;default:0"`
	NetAmount     decimal.Decimal   `json:"net_amount" gorm:"type:decimal(15,2);not null;default:0"`
	BalanceBefore decimal.Decimal   `json:"balance_before" gorm:"type:decimal(15,2)"`
	BalanceAfter  decimal.Decimal   `json:"balance_after" gorm:"type:decimal(15,2)"`
	Status        string            `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	Reference     string            `json:"reference" gorm:"type:varchar(128);not null;uniqueIndex"`
	PaymentMethod string            `json:"payment_method" gorm:"type:varchar(16);default:'wallet'"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt     time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}
