package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/models"
	"github.com/frankiekoifi/gamestake/store"
)

// WalletService owns wallet balances and the append-only transaction ledger.
// It is the only component allowed to mutate balances; the match and
// tournament services move money exclusively through Apply/ApplyTx.
type WalletService struct {
	Store    store.Store
	Gateway  PaymentGateway
	Notifier Notifier
}

func NewWalletService(st store.Store, gw PaymentGateway, n Notifier) *WalletService {
	return &WalletService{Store: st, Gateway: gw, Notifier: n}
}

// TransactionInput describes one ledger mutation.
//
// Amount is the positive gross amount of the operation. For the winning
// kinds Amount is the full payout and Stake is the actor's own locked stake
// being consumed; for every other kind Stake is ignored.
type TransactionInput struct {
	UserID        string
	Kind          string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	Stake         decimal.Decimal
	Reference     string
	PaymentMethod string
	Description   string
	Metadata      map[string]string
}

// LedgerResult is the outcome of one Apply call. Replayed is true when the
// reference had already been applied: the prior record is returned unchanged
// and no mutation happened.
type LedgerResult struct {
	Wallet   *models.Wallet
	Record   *models.Transaction
	Replayed bool
}

// CreateWallet opens a wallet for a user. Idempotent: an existing wallet is
// returned as-is.
func (s *WalletService) CreateWallet(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	if w, err := s.Store.WalletByUserID(ctx, userID); err == nil {
		return w, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if currency == "" {
		currency = "KES"
	}
	w := &models.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Currency: currency,
	}
	if err := s.Store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.Store.WalletByUserID(ctx, userID)
		}
		return nil, err
	}
	return w, nil
}

// GetWallet returns the wallet snapshot for a user.
func (s *WalletService) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := s.Store.WalletByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrWalletNotFound
	}
	return w, err
}

// Transactions returns the user's ledger records, oldest first.
func (s *WalletService) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	return s.Store.TransactionsByUser(ctx, userID)
}

// Apply performs one atomic ledger mutation in its own transactional scope.
func (s *WalletService) Apply(ctx context.Context, in TransactionInput) (*LedgerResult, error) {
	var res *LedgerResult
	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		var err error
		res, err = s.ApplyTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTx is Apply for callers that already hold an open atomic scope (a
// match settlement groups several ledger mutations into one unit).
//
// Semantics:
//   - a completed record with the same reference is returned unchanged and
//     nothing is mutated (idempotent replay);
//   - a pending record with the same reference and kind is completed in
//     place (deposit reconciliation);
//   - otherwise the wallet row is locked, the balance effect for the kind is
//     validated and applied, and wallet + record commit as one unit.
func (s *WalletService) ApplyTx(ctx context.Context, tx store.Store, in TransactionInput) (*LedgerResult, error) {
	if in.Reference == "" {
		return nil, fmt.Errorf("ledger: reference is required")
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var pending *models.Transaction
	existing, err := tx.TransactionByReference(ctx, in.Reference)
	switch {
	case err == nil && existing.Status == models.TxPending && existing.Kind == in.Kind:
		pending = existing
	case err == nil:
		// Completed, failed or mismatched record: replay, no mutation.
		w, werr := tx.WalletByUserID(ctx, existing.UserID)
		if werr != nil {
			return nil, werr
		}
		return &LedgerResult{Wallet: w, Record: existing, Replayed: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	w, err := tx.WalletByUserIDForUpdate(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	stake := in.Stake
	if stake.IsZero() {
		stake = in.Amount
	}

	balanceBefore := w.Balance
	var net decimal.Decimal

	switch in.Kind {
	case models.TxDeposit:
		w.Balance = w.Balance.Add(in.Amount)
		net = in.Amount
	case models.TxWithdrawal, models.TxFeeDeduction:
		if w.Available().LessThan(in.Amount) {
			return nil, ErrInsufficientFunds
		}
		w.Balance = w.Balance.Sub(in.Amount)
		net = in.Amount.Neg()
	case models.TxMatchEntry, models.TxTournamentEntry:
		if w.Available().LessThan(in.Amount) {
			return nil, ErrInsufficientFunds
		}
		w.Locked = w.Locked.Add(in.Amount)
	case models.TxMatchRelease:
		w.Balance = w.Balance.Sub(in.Amount)
		w.Locked = w.Locked.Sub(in.Amount)
		net = in.Amount.Neg()
	case models.TxMatchWinning, models.TxTournamentWinning:
		net = in.Amount.Sub(stake)
		w.Balance = w.Balance.Add(net)
		w.Locked = w.Locked.Sub(stake)
	case models.TxRefund:
		w.Locked = w.Locked.Sub(in.Amount)
	default:
		return nil, fmt.Errorf("ledger: unknown transaction kind %q", in.Kind)
	}

	if w.Balance.IsNegative() || w.Locked.IsNegative() || w.Locked.GreaterThan(w.Balance) {
		return nil, fmt.Errorf("ledger: %s of %s on wallet %s would break balance invariants (balance=%s locked=%s)",
			in.Kind, in.Amount, w.ID, w.Balance, w.Locked)
	}

	var record *models.Transaction
	if pending != nil {
		// Reconciling an initiated deposit: the pending amount leaves
		// Pending as the balance credit lands.
		w.Pending = w.Pending.Sub(pending.Amount)
		if w.Pending.IsNegative() {
			w.Pending = decimal.Zero
		}
		record = pending
		record.Amount = in.Amount
		if len(in.Metadata) > 0 {
			if record.Metadata == nil {
				record.Metadata = map[string]string{}
			}
			for k, v := range in.Metadata {
				record.Metadata[k] = v
			}
		}
	} else {
		record = &models.Transaction{
			ID:            uuid.NewString(),
			UserID:        in.UserID,
			WalletID:      w.ID,
			Kind:          in.Kind,
			Amount:        in.Amount,
			Reference:     in.Reference,
			PaymentMethod: in.PaymentMethod,
			Description:   in.Description,
			Metadata:      in.Metadata,
		}
		if record.PaymentMethod == "" {
			record.PaymentMethod = "wallet"
		}
	}
	record.Fee = in.Fee
	record.NetAmount = net
	record.BalanceBefore = balanceBefore
	record.BalanceAfter = w.Balance
	record.Status = models.TxCompleted

	w.Version++
	if err := tx.SaveWallet(ctx, w); err != nil {
		return nil, err
	}
	if pending != nil {
		err = tx.SaveTransaction(ctx, record)
	} else {
		err = tx.CreateTransaction(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	return &LedgerResult{Wallet: w, Record: record}, nil
}

// InitiateDeposit starts an external deposit: the gateway is asked for an
// STK push / order, and a pending ledger record is written under the
// gateway's reference. No balance changes until the confirmation event
// arrives.
func (s *WalletService) InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, method string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	reference, err := s.Gateway.InitiateDeposit(ctx, userID, amount, method)
	if err != nil {
		return nil, fmt.Errorf("initiate deposit: %w", err)
	}

	var record *models.Transaction
	err = s.Store.Atomic(ctx, func(tx store.Store) error {
		w, err := tx.WalletByUserIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		w.Pending = w.Pending.Add(amount)
		w.Version++
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		record = &models.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			WalletID:      w.ID,
			Kind:          models.TxDeposit,
			Amount:        amount,
			Status:        models.TxPending,
			Reference:     reference,
			PaymentMethod: method,
			Description:   "Wallet deposit",
		}
		return tx.CreateTransaction(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// HandlePaymentEvent reconciles one gateway confirmation. Delivery is
// at-least-once and unordered, so every outcome here must be safe to repeat:
// unknown references and already-settled references are acknowledged as
// no-ops; a pending deposit is credited exactly once; a failure marks the
// pending record failed without touching the balance.
func (s *WalletService) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) error {
	var credited *LedgerResult

	err := s.Store.Atomic(ctx, func(tx store.Store) error {
		record, err := tx.TransactionByReference(ctx, ev.Reference)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("💳 [RECONCILE] unknown reference %s, acknowledged", ev.Reference)
			return nil
		}
		if err != nil {
			return err
		}
		if record.Status != models.TxPending {
			log.Printf("💳 [RECONCILE] reference %s already %s, acknowledged", ev.Reference, record.Status)
			return nil
		}

		if ev.Status != "success" {
			w, err := tx.WalletByUserIDForUpdate(ctx, record.UserID)
			if err != nil {
				return err
			}
			w.Pending = w.Pending.Sub(record.Amount)
			if w.Pending.IsNegative() {
				w.Pending = decimal.Zero
			}
			w.Version++
			if err := tx.SaveWallet(ctx, w); err != nil {
				return err
			}
			record.Status = models.TxFailed
			record.Description = fmt.Sprintf("Deposit failed: %s", ev.Detail)
			return tx.SaveTransaction(ctx, record)
		}

		amount := ev.Amount
		if !amount.IsPositive() {
			amount = record.Amount
		}
		meta := map[string]string{}
		if ev.Receipt != "" {
			meta["receipt"] = ev.Receipt
		}
		credited, err = s.ApplyTx(ctx, tx, TransactionInput{
			UserID:        record.UserID,
			Kind:          models.TxDeposit,
			Amount:        amount,
			Reference:     ev.Reference,
			PaymentMethod: record.PaymentMethod,
			Metadata:      meta,
		})
		return err
	})
	if err != nil {
		return err
	}

	if credited != nil && !credited.Replayed {
		s.Notifier.Notify(credited.Record.UserID, Event{
			Type:  "deposit_completed",
			Title: "Deposit received",
			Body:  fmt.Sprintf("Your deposit of %s has been credited.", credited.Record.Amount),
			Data:  map[string]string{"reference": ev.Reference},
		})
	}
	return nil
}

// Withdraw debits the user's available balance. Locked funds cannot be
// withdrawn.
func (s *WalletService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, method string) (*LedgerResult, error) {
	return s.Apply(ctx, TransactionInput{
		UserID:        userID,
		Kind:          models.TxWithdrawal,
		Amount:        amount,
		Reference:     fmt.Sprintf("WD_%s", uuid.NewString()),
		PaymentMethod: method,
		Description:   "Wallet withdrawal",
	})
}
