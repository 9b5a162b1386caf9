package models

import "time"

// User carries the win/loss counters updated at settlement. Identity itself
// comes from the gateway; this row is upserted lazily the first time a user's
// stats move.
type User struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Username    string `json:"username"`
	TotalWins   int64  `json:"total_wins" gorm:"default:0"`
	TotalLosses int64  `json:"total_losses" gorm:"default:0"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
