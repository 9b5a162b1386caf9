package services

import "errors"

// Sentinel errors shared by the wallet, match and tournament services.
// Handlers map these to HTTP statuses with errors.Is.
var (
	ErrInsufficientFunds      = errors.New("insufficient available balance")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrMatchNotAvailable      = errors.New("match not available for this transition")
	ErrTournamentNotAvailable = errors.New("tournament not available for this transition")
	ErrTournamentFull         = errors.New("tournament is full")
	ErrAlreadyJoined          = errors.New("user already joined this tournament")
	ErrUnauthorized           = errors.New("user is not allowed to perform this action")
	ErrAlreadyResolved        = errors.New("already resolved")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidDistribution    = errors.New("prize distribution must sum to 100")
	ErrWrongFormat            = errors.New("bracket generation requires knockout format")
)
