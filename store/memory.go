package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/frankiekoifi/gamestake/models"
)

// Memory implements Store with in-memory maps. Used for testing and local
// development; not suitable for production (no persistence).
//
// One mutex serializes Atomic scopes, which stands in for row locking: the
// store itself has no row locks, so the whole table is the lock scope.
// Rollback is real: an Atomic scope runs against a snapshot that is only
// committed when fn succeeds.
type Memory struct {
	mu sync.Mutex
	d  *memData
}

type memData struct {
	Wallets      map[string]*models.Wallet `json:"wallets"` // keyed by user id
	Transactions []*models.Transaction     `json:"transactions"`
	Matches      map[string]*models.Match  `json:"matches"`
	Tournaments  map[string]*models.Tournament
	Participants []*models.TournamentParticipant
	Disputes     map[string]*models.Dispute
	Users        map[string]*models.User
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{d: newMemData()}
}

func newMemData() *memData {
	return &memData{
		Wallets:     make(map[string]*models.Wallet),
		Matches:     make(map[string]*models.Match),
		Tournaments: make(map[string]*models.Tournament),
		Disputes:    make(map[string]*models.Dispute),
		Users:       make(map[string]*models.User),
	}
}

// cloneVal deep-copies an entity so callers never alias store-internal state.
func cloneVal[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}

func (d *memData) clone() *memData {
	return cloneVal(d)
}

func (m *Memory) Atomic(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(&memTx{d: snapshot}); err != nil {
		return err
	}
	m.d = snapshot
	return nil
}

// memTx is the view handed to an Atomic fn. It operates on the snapshot
// without locking (the outer mutex is held for the whole scope).
type memTx struct {
	d *memData
}

func (t *memTx) Atomic(_ context.Context, fn func(Store) error) error {
	// Nested scope: snapshot again so an inner failure rolls back cleanly.
	snapshot := t.d.clone()
	if err := fn(&memTx{d: snapshot}); err != nil {
		return err
	}
	*t.d = *snapshot
	return nil
}

// --- Wallets ---

func (d *memData) createWallet(w *models.Wallet) error {
	if _, ok := d.Wallets[w.UserID]; ok {
		return ErrDuplicate
	}
	d.Wallets[w.UserID] = cloneVal(w)
	return nil
}

func (d *memData) walletByUserID(userID string) (*models.Wallet, error) {
	w, ok := d.Wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVal(w), nil
}

func (d *memData) saveWallet(w *models.Wallet) error {
	w.UpdatedAt = time.Now()
	d.Wallets[w.UserID] = cloneVal(w)
	return nil
}

// --- Ledger records ---

func (d *memData) createTransaction(t *models.Transaction) error {
	for _, existing := range d.Transactions {
		if existing.Reference == t.Reference {
			return ErrDuplicate
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	d.Transactions = append(d.Transactions, cloneVal(t))
	return nil
}

func (d *memData) saveTransaction(t *models.Transaction) error {
	for i, existing := range d.Transactions {
		if existing.ID == t.ID {
			t.UpdatedAt = time.Now()
			d.Transactions[i] = cloneVal(t)
			return nil
		}
	}
	return ErrNotFound
}

func (d *memData) transactionByReference(reference string) (*models.Transaction, error) {
	for _, t := range d.Transactions {
		if t.Reference == reference {
			return cloneVal(t), nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) transactionsByUser(userID string) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range d.Transactions {
		if t.UserID == userID {
			out = append(out, *cloneVal(t))
		}
	}
	return out, nil
}

// --- Matches ---

func (d *memData) createMatch(m *models.Match) error {
	if _, ok := d.Matches[m.ID]; ok {
		return ErrDuplicate
	}
	d.Matches[m.ID] = cloneVal(m)
	return nil
}

func (d *memData) matchByID(id string) (*models.Match, error) {
	m, ok := d.Matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVal(m), nil
}

func (d *memData) saveMatch(m *models.Match) error {
	m.UpdatedAt = time.Now()
	d.Matches[m.ID] = cloneVal(m)
	return nil
}

func (d *memData) settleDueMatches(now time.Time) ([]models.Match, error) {
	var out []models.Match
	for _, m := range d.Matches {
		if m.Status == models.MatchCompleted && m.WinnerID == "" &&
			m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			out = append(out, *cloneVal(m))
		}
	}
	return out, nil
}

func (d *memData) expiredOpenMatches(now time.Time) ([]models.Match, error) {
	var out []models.Match
	for _, m := range d.Matches {
		if (m.Status == models.MatchPending || m.Status == models.MatchAccepted) &&
			m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			out = append(out, *cloneVal(m))
		}
	}
	return out, nil
}

// --- Tournaments ---

func (d *memData) createTournament(t *models.Tournament) error {
	if _, ok := d.Tournaments[t.ID]; ok {
		return ErrDuplicate
	}
	d.Tournaments[t.ID] = cloneVal(t)
	return nil
}

func (d *memData) tournamentByID(id string) (*models.Tournament, error) {
	t, ok := d.Tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVal(t), nil
}

func (d *memData) saveTournament(t *models.Tournament) error {
	t.UpdatedAt = time.Now()
	d.Tournaments[t.ID] = cloneVal(t)
	return nil
}

func (d *memData) createParticipant(p *models.TournamentParticipant) error {
	for _, existing := range d.Participants {
		if existing.TournamentID == p.TournamentID && existing.UserID == p.UserID {
			return ErrDuplicate
		}
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	d.Participants = append(d.Participants, cloneVal(p))
	return nil
}

func (d *memData) participantsByTournament(tournamentID string) ([]models.TournamentParticipant, error) {
	var out []models.TournamentParticipant
	for _, p := range d.Participants {
		if p.TournamentID == tournamentID {
			out = append(out, *cloneVal(p))
		}
	}
	return out, nil
}

// --- Disputes ---

func (d *memData) createDispute(dp *models.Dispute) error {
	if _, ok := d.Disputes[dp.ID]; ok {
		return ErrDuplicate
	}
	d.Disputes[dp.ID] = cloneVal(dp)
	return nil
}

func (d *memData) disputeByID(id string) (*models.Dispute, error) {
	dp, ok := d.Disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVal(dp), nil
}

func (d *memData) saveDispute(dp *models.Dispute) error {
	dp.UpdatedAt = time.Now()
	d.Disputes[dp.ID] = cloneVal(dp)
	return nil
}

// --- Stats ---

func (d *memData) incrementUserStats(userID string, wins, losses int64) error {
	u, ok := d.Users[userID]
	if !ok {
		d.Users[userID] = &models.User{ID: userID, TotalWins: wins, TotalLosses: losses}
		return nil
	}
	u.TotalWins += wins
	u.TotalLosses += losses
	return nil
}

func (d *memData) userByID(id string) (*models.User, error) {
	u, ok := d.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVal(u), nil
}

// --- Store plumbing: Memory locks, memTx runs inside an open scope ---

func (m *Memory) locked(fn func(*memData) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.d)
}

func (m *Memory) CreateWallet(_ context.Context, w *models.Wallet) error {
	return m.locked(func(d *memData) error { return d.createWallet(w) })
}

func (m *Memory) WalletByUserID(_ context.Context, userID string) (w *models.Wallet, err error) {
	err = m.locked(func(d *memData) error { w, err = d.walletByUserID(userID); return err })
	return
}

func (m *Memory) WalletByUserIDForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	return m.WalletByUserID(ctx, userID)
}

func (m *Memory) SaveWallet(_ context.Context, w *models.Wallet) error {
	return m.locked(func(d *memData) error { return d.saveWallet(w) })
}

func (m *Memory) CreateTransaction(_ context.Context, t *models.Transaction) error {
	return m.locked(func(d *memData) error { return d.createTransaction(t) })
}

func (m *Memory) SaveTransaction(_ context.Context, t *models.Transaction) error {
	return m.locked(func(d *memData) error { return d.saveTransaction(t) })
}

func (m *Memory) TransactionByReference(_ context.Context, reference string) (t *models.Transaction, err error) {
	err = m.locked(func(d *memData) error { t, err = d.transactionByReference(reference); return err })
	return
}

func (m *Memory) TransactionsByUser(_ context.Context, userID string) (ts []models.Transaction, err error) {
	err = m.locked(func(d *memData) error { ts, err = d.transactionsByUser(userID); return err })
	return
}

func (m *Memory) CreateMatch(_ context.Context, mt *models.Match) error {
	return m.locked(func(d *memData) error { return d.createMatch(mt) })
}

func (m *Memory) MatchByID(_ context.Context, id string) (mt *models.Match, err error) {
	err = m.locked(func(d *memData) error { mt, err = d.matchByID(id); return err })
	return
}

func (m *Memory) MatchByIDForUpdate(ctx context.Context, id string) (*models.Match, error) {
	return m.MatchByID(ctx, id)
}

func (m *Memory) SaveMatch(_ context.Context, mt *models.Match) error {
	return m.locked(func(d *memData) error { return d.saveMatch(mt) })
}

func (m *Memory) SettleDueMatches(_ context.Context, now time.Time) (ms []models.Match, err error) {
	err = m.locked(func(d *memData) error { ms, err = d.settleDueMatches(now); return err })
	return
}

func (m *Memory) ExpiredOpenMatches(_ context.Context, now time.Time) (ms []models.Match, err error) {
	err = m.locked(func(d *memData) error { ms, err = d.expiredOpenMatches(now); return err })
	return
}

func (m *Memory) CreateTournament(_ context.Context, t *models.Tournament) error {
	return m.locked(func(d *memData) error { return d.createTournament(t) })
}

func (m *Memory) TournamentByID(_ context.Context, id string) (t *models.Tournament, err error) {
	err = m.locked(func(d *memData) error { t, err = d.tournamentByID(id); return err })
	return
}

func (m *Memory) TournamentByIDForUpdate(ctx context.Context, id string) (*models.Tournament, error) {
	return m.TournamentByID(ctx, id)
}

func (m *Memory) SaveTournament(_ context.Context, t *models.Tournament) error {
	return m.locked(func(d *memData) error { return d.saveTournament(t) })
}

func (m *Memory) CreateParticipant(_ context.Context, p *models.TournamentParticipant) error {
	return m.locked(func(d *memData) error { return d.createParticipant(p) })
}

func (m *Memory) ParticipantsByTournament(_ context.Context, tournamentID string) (ps []models.TournamentParticipant, err error) {
	err = m.locked(func(d *memData) error { ps, err = d.participantsByTournament(tournamentID); return err })
	return
}

func (m *Memory) CreateDispute(_ context.Context, dp *models.Dispute) error {
	return m.locked(func(d *memData) error { return d.createDispute(dp) })
}

func (m *Memory) DisputeByID(_ context.Context, id string) (dp *models.Dispute, err error) {
	err = m.locked(func(d *memData) error { dp, err = d.disputeByID(id); return err })
	return
}

func (m *Memory) SaveDispute(_ context.Context, dp *models.Dispute) error {
	return m.locked(func(d *memData) error { return d.saveDispute(dp) })
}

func (m *Memory) IncrementUserStats(_ context.Context, userID string, wins, losses int64) error {
	return m.locked(func(d *memData) error { return d.incrementUserStats(userID, wins, losses) })
}

func (m *Memory) UserByID(_ context.Context, id string) (u *models.User, err error) {
	err = m.locked(func(d *memData) error { u, err = d.userByID(id); return err })
	return
}

func (t *memTx) CreateWallet(_ context.Context, w *models.Wallet) error { return t.d.createWallet(w) }

func (t *memTx) WalletByUserID(_ context.Context, userID string) (*models.Wallet, error) {
	return t.d.walletByUserID(userID)
}

func (t *memTx) WalletByUserIDForUpdate(_ context.Context, userID string) (*models.Wallet, error) {
	return t.d.walletByUserID(userID)
}

func (t *memTx) SaveWallet(_ context.Context, w *models.Wallet) error { return t.d.saveWallet(w) }

func (t *memTx) CreateTransaction(_ context.Context, tr *models.Transaction) error {
	return t.d.createTransaction(tr)
}

func (t *memTx) SaveTransaction(_ context.Context, tr *models.Transaction) error {
	return t.d.saveTransaction(tr)
}

func (t *memTx) TransactionByReference(_ context.Context, reference string) (*models.Transaction, error) {
	return t.d.transactionByReference(reference)
}

func (t *memTx) TransactionsByUser(_ context.Context, userID string) ([]models.Transaction, error) {
	return t.d.transactionsByUser(userID)
}

func (t *memTx) CreateMatch(_ context.Context, m *models.Match) error { return t.d.createMatch(m) }

func (t *memTx) MatchByID(_ context.Context, id string) (*models.Match, error) {
	return t.d.matchByID(id)
}

func (t *memTx) MatchByIDForUpdate(_ context.Context, id string) (*models.Match, error) {
	return t.d.matchByID(id)
}

func (t *memTx) SaveMatch(_ context.Context, m *models.Match) error { return t.d.saveMatch(m) }

func (t *memTx) SettleDueMatches(_ context.Context, now time.Time) ([]models.Match, error) {
	return t.d.settleDueMatches(now)
}

func (t *memTx) ExpiredOpenMatches(_ context.Context, now time.Time) ([]models.Match, error) {
	return t.d.expiredOpenMatches(now)
}

func (t *memTx) CreateTournament(_ context.Context, tr *models.Tournament) error {
	return t.d.createTournament(tr)
}

func (t *memTx) TournamentByID(_ context.Context, id string) (*models.Tournament, error) {
	return t.d.tournamentByID(id)
}

func (t *memTx) TournamentByIDForUpdate(_ context.Context, id string) (*models.Tournament, error) {
	return t.d.tournamentByID(id)
}

func (t *memTx) SaveTournament(_ context.Context, tr *models.Tournament) error {
	return t.d.saveTournament(tr)
}

func (t *memTx) CreateParticipant(_ context.Context, p *models.TournamentParticipant) error {
	return t.d.createParticipant(p)
}

func (t *memTx) ParticipantsByTournament(_ context.Context, tournamentID string) ([]models.TournamentParticipant, error) {
	return t.d.participantsByTournament(tournamentID)
}

func (t *memTx) CreateDispute(_ context.Context, dp *models.Dispute) error {
	return t.d.createDispute(dp)
}

func (t *memTx) DisputeByID(_ context.Context, id string) (*models.Dispute, error) {
	return t.d.disputeByID(id)
}

func (t *memTx) SaveDispute(_ context.Context, dp *models.Dispute) error {
	return t.d.saveDispute(dp)
}

func (t *memTx) IncrementUserStats(_ context.Context, userID string, wins, losses int64) error {
	return t.d.incrementUserStats(userID, wins, losses)
}

func (t *memTx) UserByID(_ context.Context, id string) (*models.User, error) {
	return t.d.userByID(id)
}
