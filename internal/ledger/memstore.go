package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Skriptersz/agariogambling/internal/telemetry"
	logledger "github.com/Skriptersz/agariogambling/logging/ledger"
)

// HouseAccountID is the default distinguished account rake entries land on
// when a store is constructed without an explicit house account.
const HouseAccountID = "house"

// MemStore is an in-memory Store, used by tests and as the default before a
// Postgres DSN is configured. It is safe for concurrent use.
type MemStore struct {
	mu        sync.Mutex
	wallets   map[string]*Wallet
	accounts  map[string]Account
	claims    map[string]string // idempotency key -> entry id ("" for multi-row ops)
	entries   []LedgerEntry
	settled   map[string]bool
	nextEntry int

	house     string
	publisher telemetry.Publisher
	now       func() time.Time
}

// NewMemStore constructs an empty MemStore. publisher may be nil.
func NewMemStore(publisher telemetry.Publisher) *MemStore {
	return &MemStore{
		wallets:   make(map[string]*Wallet),
		accounts:  make(map[string]Account),
		claims:    make(map[string]string),
		settled:   make(map[string]bool),
		house:     HouseAccountID,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetHouseAccount overrides the account rake entries are attributed to.
func (s *MemStore) SetHouseAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.house = accountID
}

// PutAccount registers or replaces an account record; used by tests and by
// the KYC collaborator glue.
func (s *MemStore) PutAccount(ctx context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

// GetAccount implements Directory over the store's own account table.
func (s *MemStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{ID: accountID, KYC: KYCNone}, nil
	}
	return a, nil
}

// Credit adds funds to an account's available balance without an idempotency
// key; used to seed test fixtures.
func (s *MemStore) Credit(accountID string, amountCts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.walletLocked(accountID)
	w.AvailableCts += amountCts
	w.Version++
	s.record(LedgerEntry{AccountID: accountID, Type: EntryDeposit, AmountCts: amountCts, Status: EntryCompleted})
}

func (s *MemStore) walletLocked(accountID string) *Wallet {
	w, ok := s.wallets[accountID]
	if !ok {
		w = &Wallet{AccountID: accountID}
		s.wallets[accountID] = w
	}
	return w
}

func (s *MemStore) record(e LedgerEntry) string {
	s.nextEntry++
	e.ID = fmt.Sprintf("entry-%d", s.nextEntry)
	e.CreatedAt = s.now()
	if e.Status == "" {
		e.Status = EntryCompleted
	}
	s.entries = append(s.entries, e)
	return e.ID
}

func (s *MemStore) GetWallet(ctx context.Context, accountID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.walletLocked(accountID), nil
}

func (s *MemStore) Deposit(ctx context.Context, idempotencyKey, accountID string, amountCts int64, ref string) (string, error) {
	if amountCts <= 0 {
		return "", ErrAmountInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, done := s.claims[idempotencyKey]; done {
		logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return id, nil
	}
	w := s.walletLocked(accountID)
	w.AvailableCts += amountCts
	w.Version++
	id := s.record(LedgerEntry{AccountID: accountID, Type: EntryDeposit, AmountCts: amountCts, MatchRef: ref, IdempotencyKey: idempotencyKey})
	s.claims[idempotencyKey] = id
	return id, nil
}

func (s *MemStore) Withdraw(ctx context.Context, idempotencyKey, accountID string, amountCts int64, method string) (string, error) {
	if amountCts <= 0 {
		return "", ErrAmountInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, done := s.claims[idempotencyKey]; done {
		logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return id, nil
	}
	if a := s.accounts[accountID]; a.KYC != KYCApproved {
		return "", ErrKYCRequired
	}
	w := s.walletLocked(accountID)
	if w.AvailableCts < amountCts {
		return "", ErrInsufficientFunds
	}
	w.AvailableCts -= amountCts
	w.Version++
	id := s.record(LedgerEntry{AccountID: accountID, Type: EntryWithdrawal, AmountCts: -amountCts, MatchRef: method, IdempotencyKey: idempotencyKey})
	s.claims[idempotencyKey] = id
	return id, nil
}

func (s *MemStore) LockEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.claims[idempotencyKey]; done {
		logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return nil
	}
	w := s.walletLocked(accountID)
	if w.AvailableCts < amountCts {
		return ErrInsufficientFunds
	}
	w.AvailableCts -= amountCts
	w.EscrowCts += amountCts
	w.Version++
	// Lock rows carry a negative delta: the stake leaves available and the
	// escrow bucket tracks it until a release, refund, or settle row answers.
	id := s.record(LedgerEntry{AccountID: accountID, Type: EntryEscrowLock, AmountCts: -amountCts, MatchRef: matchRef, IdempotencyKey: idempotencyKey})
	s.claims[idempotencyKey] = id
	logledger.EscrowLocked(ctx, s.publisher, logledger.EscrowLockedPayload{AccountID: accountID, MatchRef: matchRef, AmountCts: amountCts})
	return nil
}

func (s *MemStore) ReleaseEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.claims[idempotencyKey]; done {
		logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return nil
	}
	w := s.walletLocked(accountID)
	if w.EscrowCts < amountCts {
		logledger.IntegrityViolation(ctx, s.publisher, logledger.IntegrityViolationPayload{
			AccountID: accountID, Invariant: "escrow >= release_amount",
			Description: fmt.Sprintf("escrow=%d release=%d", w.EscrowCts, amountCts),
		})
		return ErrIntegrityViolation
	}
	w.EscrowCts -= amountCts
	w.AvailableCts += amountCts
	w.Version++
	id := s.record(LedgerEntry{AccountID: accountID, Type: EntryEscrowRelease, AmountCts: amountCts, MatchRef: matchRef, IdempotencyKey: idempotencyKey})
	s.claims[idempotencyKey] = id
	return nil
}

func (s *MemStore) Settle(ctx context.Context, idempotencyKey, matchRef string, entries []SettlementEntry, rakeCts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.claims[idempotencyKey]; done || s.settled[matchRef] {
		logledger.IdempotentReplay(ctx, s.publisher, matchRef, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return nil
	}
	var totalPayout int64
	for _, e := range entries {
		w := s.walletLocked(e.AccountID)
		if w.EscrowCts < e.BuyInCts {
			logledger.IntegrityViolation(ctx, s.publisher, logledger.IntegrityViolationPayload{
				AccountID: e.AccountID, Invariant: "escrow >= buy_in at settle",
				Description: fmt.Sprintf("escrow=%d buy_in=%d", w.EscrowCts, e.BuyInCts),
			})
			return ErrIntegrityViolation
		}
		w.EscrowCts -= e.BuyInCts
		w.AvailableCts += e.PayoutCts
		w.Version++
		totalPayout += e.PayoutCts
		s.record(LedgerEntry{AccountID: e.AccountID, Type: EntrySettlementPayout, AmountCts: e.PayoutCts, MatchRef: matchRef})
	}
	if rakeCts > 0 {
		house := s.walletLocked(s.house)
		house.AvailableCts += rakeCts
		house.Version++
		s.record(LedgerEntry{AccountID: s.house, Type: EntryRake, AmountCts: rakeCts, MatchRef: matchRef})
	}
	s.claims[idempotencyKey] = ""
	s.settled[matchRef] = true
	logledger.Settled(ctx, s.publisher, logledger.SettledPayload{MatchID: matchRef, RakeCts: rakeCts, PayoutCts: totalPayout})
	return nil
}

func (s *MemStore) Refund(ctx context.Context, idempotencyKey, matchRef string, amountsCts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.claims[idempotencyKey]; done || s.settled[matchRef] {
		logledger.IdempotentReplay(ctx, s.publisher, matchRef, logledger.IdempotentReplayPayload{Key: idempotencyKey})
		return nil
	}
	for accountID, amount := range amountsCts {
		w := s.walletLocked(accountID)
		if w.EscrowCts < amount {
			return ErrIntegrityViolation
		}
		w.EscrowCts -= amount
		w.AvailableCts += amount
		w.Version++
		s.record(LedgerEntry{AccountID: accountID, Type: EntryRefund, AmountCts: amount, MatchRef: matchRef})
		logledger.Refunded(ctx, s.publisher, logledger.RefundedPayload{MatchID: matchRef, AccountID: accountID, AmountCts: amount})
	}
	s.claims[idempotencyKey] = ""
	s.settled[matchRef] = true
	return nil
}

func (s *MemStore) History(ctx context.Context, accountID string, cursor string, limit int) ([]LedgerEntry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	// entries is append-ordered; walk it backwards for newest-first pages.
	var matching []LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			matching = append(matching, s.entries[i])
		}
	}

	start := 0
	if cursor != "" {
		for i, e := range matching {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(matching) {
		return nil, "", nil
	}
	end := start + limit
	if end > len(matching) {
		end = len(matching)
	}
	page := matching[start:end]
	next := ""
	if end < len(matching) {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

var _ Store = (*MemStore)(nil)
var _ Directory = (*MemStore)(nil)
var _ Registrar = (*MemStore)(nil)
