package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skriptersz/agariogambling/internal/telemetry"
	logledger "github.com/Skriptersz/agariogambling/logging/ledger"
)

// serializationFailure is Postgres's SQLSTATE for a transaction that lost a
// serializable-isolation race; the caller is expected to retry.
const serializationFailure = "40001"

const maxRetries = 5

// PgStore is a Postgres-backed Store. Every mutation runs inside a
// SERIALIZABLE transaction that locks the affected wallet rows with
// SELECT ... FOR UPDATE and retries on 40001, and every mutation records its
// idempotency key in ledger_claims under ON CONFLICT DO NOTHING so
// at-least-once delivery from the lifecycle controller never double-applies
// an escrow movement.
type PgStore struct {
	pool      *pgxpool.Pool
	house     string
	publisher telemetry.Publisher
}

// NewPgStore wraps an existing connection pool. The schema (accounts,
// wallets, ledger_entries, ledger_claims) is assumed to be migrated
// separately. houseAccountID may be empty to use the default.
func NewPgStore(pool *pgxpool.Pool, houseAccountID string, publisher telemetry.Publisher) *PgStore {
	if houseAccountID == "" {
		houseAccountID = HouseAccountID
	}
	return &PgStore{pool: pool, house: houseAccountID, publisher: publisher}
}

func (s *PgStore) withSerializableRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = s.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(lastErr, &pgErr) && pgErr.Code == serializationFailure {
			logledger.ContentionRetry(ctx, s.publisher, "", logledger.ContentionRetryPayload{
				Operation: "ledger_tx", Attempt: attempt + 1,
			})
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return lastErr
	}
	return fmt.Errorf("ledger: exceeded %d retries: %w", maxRetries, lastErr)
}

func (s *PgStore) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// claim inserts the idempotency key and reports whether it was new. A
// false return carries the entry id the original call recorded, so replays
// can hand back the same id without re-applying effects. A concurrent
// in-flight transaction holding the same key blocks here until it commits,
// which is what turns a pending duplicate into a clean replay.
func claim(ctx context.Context, tx pgx.Tx, key string) (fresh bool, entryID string, err error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_claims (idempotency_key, created_at) VALUES ($1, now()) ON CONFLICT DO NOTHING`,
		key)
	if err != nil {
		return false, "", err
	}
	if tag.RowsAffected() == 1 {
		return true, "", nil
	}
	var id *string
	err = tx.QueryRow(ctx,
		`SELECT entry_id FROM ledger_claims WHERE idempotency_key = $1`, key).Scan(&id)
	if err != nil {
		return false, "", err
	}
	if id != nil {
		entryID = *id
	}
	return false, entryID, nil
}

func bindClaim(ctx context.Context, tx pgx.Tx, key, entryID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE ledger_claims SET entry_id = $2 WHERE idempotency_key = $1`, key, entryID)
	return err
}

func lockWallet(ctx context.Context, tx pgx.Tx, accountID string) (Wallet, error) {
	var w Wallet
	err := tx.QueryRow(ctx,
		`SELECT account_id, available_cts, escrow_cts, version FROM wallets WHERE account_id = $1 FOR UPDATE`,
		accountID).Scan(&w.AccountID, &w.AvailableCts, &w.EscrowCts, &w.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = tx.Exec(ctx,
			`INSERT INTO wallets (account_id, available_cts, escrow_cts, version) VALUES ($1, 0, 0, 0)
			 ON CONFLICT (account_id) DO NOTHING`, accountID)
		if err != nil {
			return Wallet{}, err
		}
		return Wallet{AccountID: accountID}, nil
	}
	return w, err
}

func saveWallet(ctx context.Context, tx pgx.Tx, w Wallet) error {
	_, err := tx.Exec(ctx,
		`UPDATE wallets SET available_cts = $2, escrow_cts = $3, version = version + 1 WHERE account_id = $1`,
		w.AccountID, w.AvailableCts, w.EscrowCts)
	return err
}

func insertEntry(ctx context.Context, tx pgx.Tx, e LedgerEntry) (string, error) {
	if e.Status == "" {
		e.Status = EntryCompleted
	}
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (account_id, type, amount_cts, status, match_ref, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now()) RETURNING id`,
		e.AccountID, e.Type, e.AmountCts, e.Status, e.MatchRef, e.IdempotencyKey).Scan(&id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (s *PgStore) PutAccount(ctx context.Context, a Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, nickname, kyc_state, region) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET nickname = $2, kyc_state = $3, region = $4`,
		a.ID, a.Nickname, string(a.KYC), a.Region)
	return err
}

func (s *PgStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, kyc_state, region FROM accounts WHERE id = $1`,
		accountID).Scan(&a.ID, &a.Nickname, &a.KYC, &a.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{ID: accountID, KYC: KYCNone}, nil
	}
	return a, err
}

func (s *PgStore) GetWallet(ctx context.Context, accountID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, available_cts, escrow_cts, version FROM wallets WHERE account_id = $1`,
		accountID).Scan(&w.AccountID, &w.AvailableCts, &w.EscrowCts, &w.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{AccountID: accountID}, nil
	}
	return w, err
}

func (s *PgStore) Deposit(ctx context.Context, idempotencyKey, accountID string, amountCts int64, ref string) (string, error) {
	if amountCts <= 0 {
		return "", ErrAmountInvalid
	}
	var entryID string
	err := s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, replayID, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			entryID = replayID
			return nil
		}
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		w.AvailableCts += amountCts
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		entryID, err = insertEntry(ctx, tx, LedgerEntry{AccountID: accountID, Type: EntryDeposit, AmountCts: amountCts, MatchRef: ref, IdempotencyKey: idempotencyKey})
		if err != nil {
			return err
		}
		return bindClaim(ctx, tx, idempotencyKey, entryID)
	})
	return entryID, err
}

func (s *PgStore) Withdraw(ctx context.Context, idempotencyKey, accountID string, amountCts int64, method string) (string, error) {
	if amountCts <= 0 {
		return "", ErrAmountInvalid
	}
	var entryID string
	err := s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, replayID, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			entryID = replayID
			return nil
		}
		var kyc KYCState
		err = tx.QueryRow(ctx, `SELECT kyc_state FROM accounts WHERE id = $1`, accountID).Scan(&kyc)
		if errors.Is(err, pgx.ErrNoRows) {
			kyc = KYCNone
		} else if err != nil {
			return err
		}
		if kyc != KYCApproved {
			return ErrKYCRequired
		}
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.AvailableCts < amountCts {
			return ErrInsufficientFunds
		}
		w.AvailableCts -= amountCts
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		entryID, err = insertEntry(ctx, tx, LedgerEntry{AccountID: accountID, Type: EntryWithdrawal, AmountCts: -amountCts, MatchRef: method, IdempotencyKey: idempotencyKey})
		if err != nil {
			return err
		}
		return bindClaim(ctx, tx, idempotencyKey, entryID)
	})
	return entryID, err
}

func (s *PgStore) LockEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error {
	return s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, _, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			return nil
		}
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.AvailableCts < amountCts {
			return ErrInsufficientFunds
		}
		w.AvailableCts -= amountCts
		w.EscrowCts += amountCts
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		if _, err := insertEntry(ctx, tx, LedgerEntry{AccountID: accountID, Type: EntryEscrowLock, AmountCts: -amountCts, MatchRef: matchRef, IdempotencyKey: idempotencyKey}); err != nil {
			return err
		}
		logledger.EscrowLocked(ctx, s.publisher, logledger.EscrowLockedPayload{AccountID: accountID, MatchRef: matchRef, AmountCts: amountCts})
		return nil
	})
}

func (s *PgStore) ReleaseEscrow(ctx context.Context, idempotencyKey, accountID, matchRef string, amountCts int64) error {
	return s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, _, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, accountID, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			return nil
		}
		w, err := lockWallet(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if w.EscrowCts < amountCts {
			logledger.IntegrityViolation(ctx, s.publisher, logledger.IntegrityViolationPayload{
				AccountID: accountID, Invariant: "escrow >= release_amount",
				Description: fmt.Sprintf("escrow=%d release=%d", w.EscrowCts, amountCts),
			})
			return ErrIntegrityViolation
		}
		w.EscrowCts -= amountCts
		w.AvailableCts += amountCts
		if err := saveWallet(ctx, tx, w); err != nil {
			return err
		}
		_, err = insertEntry(ctx, tx, LedgerEntry{AccountID: accountID, Type: EntryEscrowRelease, AmountCts: amountCts, MatchRef: matchRef, IdempotencyKey: idempotencyKey})
		return err
	})
}

func (s *PgStore) Settle(ctx context.Context, idempotencyKey, matchRef string, entries []SettlementEntry, rakeCts int64) error {
	return s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, _, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, matchRef, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			return nil
		}
		var totalPayout int64
		for _, e := range entries {
			w, err := lockWallet(ctx, tx, e.AccountID)
			if err != nil {
				return err
			}
			if w.EscrowCts < e.BuyInCts {
				logledger.IntegrityViolation(ctx, s.publisher, logledger.IntegrityViolationPayload{
					AccountID: e.AccountID, Invariant: "escrow >= buy_in at settle",
					Description: fmt.Sprintf("escrow=%d buy_in=%d", w.EscrowCts, e.BuyInCts),
				})
				return ErrIntegrityViolation
			}
			w.EscrowCts -= e.BuyInCts
			w.AvailableCts += e.PayoutCts
			if err := saveWallet(ctx, tx, w); err != nil {
				return err
			}
			if _, err := insertEntry(ctx, tx, LedgerEntry{AccountID: e.AccountID, Type: EntrySettlementPayout, AmountCts: e.PayoutCts, MatchRef: matchRef}); err != nil {
				return err
			}
			totalPayout += e.PayoutCts
		}
		if rakeCts > 0 {
			w, err := lockWallet(ctx, tx, s.house)
			if err != nil {
				return err
			}
			w.AvailableCts += rakeCts
			if err := saveWallet(ctx, tx, w); err != nil {
				return err
			}
			if _, err := insertEntry(ctx, tx, LedgerEntry{AccountID: s.house, Type: EntryRake, AmountCts: rakeCts, MatchRef: matchRef}); err != nil {
				return err
			}
		}
		logledger.Settled(ctx, s.publisher, logledger.SettledPayload{MatchID: matchRef, RakeCts: rakeCts, PayoutCts: totalPayout})
		return nil
	})
}

func (s *PgStore) Refund(ctx context.Context, idempotencyKey, matchRef string, amountsCts map[string]int64) error {
	return s.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		fresh, _, err := claim(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}
		if !fresh {
			logledger.IdempotentReplay(ctx, s.publisher, matchRef, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			return nil
		}
		var settled bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE match_ref = $1 AND type IN ('payout', 'rake'))`,
			matchRef).Scan(&settled); err != nil {
			return err
		}
		if settled {
			logledger.IdempotentReplay(ctx, s.publisher, matchRef, logledger.IdempotentReplayPayload{Key: idempotencyKey})
			return nil
		}
		for accountID, amount := range amountsCts {
			w, err := lockWallet(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if w.EscrowCts < amount {
				return ErrIntegrityViolation
			}
			w.EscrowCts -= amount
			w.AvailableCts += amount
			if err := saveWallet(ctx, tx, w); err != nil {
				return err
			}
			if _, err := insertEntry(ctx, tx, LedgerEntry{AccountID: accountID, Type: EntryRefund, AmountCts: amount, MatchRef: matchRef}); err != nil {
				return err
			}
			logledger.Refunded(ctx, s.publisher, logledger.RefundedPayload{MatchID: matchRef, AccountID: accountID, AmountCts: amount})
		}
		return nil
	})
}

func (s *PgStore) History(ctx context.Context, accountID string, cursor string, limit int) ([]LedgerEntry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, type, amount_cts, status, match_ref, COALESCE(idempotency_key, ''), created_at FROM ledger_entries
		 WHERE account_id = $1 AND ($2 = '' OR id < $2::bigint)
		 ORDER BY id DESC LIMIT $3`,
		accountID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var id int64
		if err := rows.Scan(&id, &e.AccountID, &e.Type, &e.AmountCts, &e.Status, &e.MatchRef, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		e.ID = fmt.Sprintf("%d", id)
		entries = append(entries, e)
	}
	next := ""
	if len(entries) == limit {
		next = entries[len(entries)-1].ID
	}
	return entries, next, rows.Err()
}

var _ Store = (*PgStore)(nil)
var _ Directory = (*PgStore)(nil)
var _ Registrar = (*PgStore)(nil)
