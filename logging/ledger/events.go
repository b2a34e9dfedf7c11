// Package ledger declares the structured events the ledger/escrow engine
// and settlement publish.
package ledger

import (
	"context"

	"github.com/Skriptersz/agariogambling/logging"
)

const (
	EventEscrowLocked     logging.EventType = "ledger.escrow_locked"
	EventEscrowReleased   logging.EventType = "ledger.escrow_released"
	EventSettled          logging.EventType = "ledger.settled"
	EventRefunded         logging.EventType = "ledger.refunded"
	EventContentionRetry  logging.EventType = "ledger.contention_retry"
	EventIdempotentReplay logging.EventType = "ledger.idempotent_replay"
	// EventIntegrityViolation fires when a wallet invariant is breached.
	// It is fatal at transaction scope and MUST NOT be dropped silently;
	// it is always published at SeverityError regardless of the router's
	// configured minimum severity.
	EventIntegrityViolation logging.EventType = "ledger.integrity_violation"
)

type EscrowLockedPayload struct {
	AccountID string `json:"accountId"`
	MatchRef  string `json:"matchRef"`
	AmountCts int64  `json:"amountCents"`
}

type EscrowReleasedPayload struct {
	AccountID string `json:"accountId"`
	MatchRef  string `json:"matchRef"`
	AmountCts int64  `json:"amountCents"`
}

type SettledPayload struct {
	MatchID   string `json:"matchId"`
	PotCts    int64  `json:"potCents"`
	RakeCts   int64  `json:"rakeCents"`
	PayoutCts int64  `json:"payoutCents"`
}

type RefundedPayload struct {
	MatchID   string `json:"matchId"`
	AccountID string `json:"accountId"`
	AmountCts int64  `json:"amountCents"`
}

type ContentionRetryPayload struct {
	Operation string `json:"operation"`
	Attempt   int    `json:"attempt"`
}

type IdempotentReplayPayload struct {
	Key string `json:"key"`
}

type IntegrityViolationPayload struct {
	AccountID   string `json:"accountId"`
	Invariant   string `json:"invariant"`
	Description string `json:"description"`
}

func account(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindAccount}
}

func EscrowLocked(ctx context.Context, pub logging.Publisher, payload EscrowLockedPayload) {
	publish(ctx, pub, EventEscrowLocked, payload.AccountID, logging.SeverityInfo, payload)
}

func EscrowReleased(ctx context.Context, pub logging.Publisher, payload EscrowReleasedPayload) {
	publish(ctx, pub, EventEscrowReleased, payload.AccountID, logging.SeverityInfo, payload)
}

func Settled(ctx context.Context, pub logging.Publisher, payload SettledPayload) {
	publish(ctx, pub, EventSettled, payload.MatchID, logging.SeverityInfo, payload)
}

func Refunded(ctx context.Context, pub logging.Publisher, payload RefundedPayload) {
	publish(ctx, pub, EventRefunded, payload.AccountID, logging.SeverityWarn, payload)
}

func ContentionRetry(ctx context.Context, pub logging.Publisher, accountID string, payload ContentionRetryPayload) {
	publish(ctx, pub, EventContentionRetry, accountID, logging.SeverityWarn, payload)
}

func IdempotentReplay(ctx context.Context, pub logging.Publisher, accountID string, payload IdempotentReplayPayload) {
	publish(ctx, pub, EventIdempotentReplay, accountID, logging.SeverityDebug, payload)
}

func IntegrityViolation(ctx context.Context, pub logging.Publisher, payload IntegrityViolationPayload) {
	publish(ctx, pub, EventIntegrityViolation, payload.AccountID, logging.SeverityError, payload)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, actorID string, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Actor:    account(actorID),
		Severity: sev,
		Category: logging.CategoryLedger,
		Payload:  payload,
	})
}
