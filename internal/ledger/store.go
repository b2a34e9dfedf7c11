// Package ledger is the escrow and settlement bookkeeper. It tracks, in
// integer minor units only, every account's available and escrowed balance
// and guarantees that every state-changing call is idempotent under
// at-least-once delivery.
package ledger

import (
	"context"
	"errors"
	"time"
)

// EntryType tags the kind of movement a LedgerEntry records.
type EntryType string

const (
	EntryDeposit          EntryType = "deposit"
	EntryWithdrawal       EntryType = "withdrawal"
	EntryEscrowLock       EntryType = "escrow_lock"
	EntryEscrowRelease    EntryType = "escrow_release"
	EntrySettlementPayout EntryType = "payout"
	EntryRake             EntryType = "rake"
	EntryRefund           EntryType = "refund"
)

// EntryStatus is a ledger row's finalization state. Rows never change after
// reaching EntryCompleted; the ledger is append-only beyond finalization.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// KYCState is an account's know-your-customer verification state, mutated
// only by the external KYC collaborator; the ledger merely reads it to gate
// withdrawals.
type KYCState string

const (
	KYCNone     KYCState = "none"
	KYCPending  KYCState = "pending"
	KYCApproved KYCState = "approved"
	KYCRejected KYCState = "rejected"
)

// Account is the identity slice of a player the ledger cares about.
type Account struct {
	ID       string
	Nickname string
	KYC      KYCState
	Region   string
}

// Directory resolves account identity and KYC state. The ledger never
// mutates accounts; auth/KYC collaborators own them.
type Directory interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
}

// Registrar is the write half of the account directory, exposed to the
// auth/KYC collaborator's registration surface.
type Registrar interface {
	PutAccount(ctx context.Context, a Account) error
}

// Wallet is one account's current balance split between funds free to wager
// and funds locked in an active match's escrow.
type Wallet struct {
	AccountID    string
	AvailableCts int64
	EscrowCts    int64
	Version      int64
}

// LedgerEntry is one immutable movement in an account's history.
type LedgerEntry struct {
	ID             string
	AccountID      string
	Type           EntryType
	AmountCts      int64
	Status         EntryStatus
	MatchRef       string
	IdempotencyKey string
	CreatedAt      time.Time
}

// SettlementEntry is one player's terms in a Settle call: the buy-in that
// was locked into escrow at join time and the payout the settlement model
// awarded. Escrow is released by BuyInCts (each player's own stake), never
// by a pot fraction derived from the payout count.
type SettlementEntry struct {
	AccountID string
	BuyInCts  int64
	PayoutCts int64
}

// ErrInsufficientFunds is returned when an escrow lock or withdrawal would
// overdraw an account's available balance.
var ErrInsufficientFunds = errors.New("ledger: insufficient available balance")

// ErrKYCRequired is returned when a withdrawal is attempted by an account
// whose KYC state is not approved.
var ErrKYCRequired = errors.New("ledger: withdrawal requires approved KYC")

// ErrIntegrityViolation is returned when a wallet's available+escrow
// accounting identity would be broken by an operation; callers must treat
// this as fatal to the enclosing transaction.
var ErrIntegrityViolation = errors.New("ledger: wallet integrity violation")

// ErrAmountInvalid is returned when a money operation names a non-positive
// amount.
var ErrAmountInvalid = errors.New("ledger: amount must be positive minor units")

// Store is the ledger's persistence contract. Every mutating method takes
// an idempotency key and MUST collapse repeated calls with the same key
// into a single effect. Methods that create a single ledger row return its
// id; a replayed call returns the id the first call created.
type Store interface {
	GetWallet(ctx context.Context, accountID string) (Wallet, error)

	// Deposit credits amountCts to the account's available balance. ref is
	// an opaque reference blob from the payment collaborator.
	Deposit(ctx context.Context, idempotencyKey, accountID string, amountCts int64, ref string) (string, error)

	// Withdraw debits amountCts from the account's available balance.
	// Requires the account's KYC state to be approved.
	Withdraw(ctx context.Context, idempotencyKey, accountID string, amountCts int64, method string) (string, error)

	LockEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error

	// ReleaseEscrow returns exactly amountCts to the account's available
	// balance. Callers MUST pass each player's own buy-in, never a pot
	// fraction computed by dividing total escrow by payout count.
	ReleaseEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error

	// Settle atomically converts a match's escrowed pot into payouts and a
	// rake entry: each entry's escrow shrinks by its buy-in, its available
	// grows by its payout, and one rake row lands on the house account.
	// Calling Settle twice with the same idempotency key is a no-op on the
	// second call.
	Settle(ctx context.Context, idempotencyKey, matchRef string, entries []SettlementEntry, rakeCts int64) error

	// Refund releases escrow back to available balance for every listed
	// account without any payout or rake. Calling Refund on a match that
	// Settle already completed is a no-op.
	Refund(ctx context.Context, idempotencyKey, matchRef string, amountsCts map[string]int64) error

	History(ctx context.Context, accountID string, cursor string, limit int) ([]LedgerEntry, string, error)
}
