package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL the PgStore expects. Check constraints keep the
// non-negative balance invariants enforced at the database even if a code
// path slips past the in-transaction guards.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	nickname   TEXT NOT NULL DEFAULT '',
	kyc_state  TEXT NOT NULL DEFAULT 'none'
		CHECK (kyc_state IN ('none', 'pending', 'approved', 'rejected')),
	region     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallets (
	account_id    TEXT PRIMARY KEY,
	available_cts BIGINT NOT NULL DEFAULT 0 CHECK (available_cts >= 0),
	escrow_cts    BIGINT NOT NULL DEFAULT 0 CHECK (escrow_cts >= 0),
	version       BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id              BIGSERIAL PRIMARY KEY,
	account_id      TEXT NOT NULL,
	type            TEXT NOT NULL
		CHECK (type IN ('deposit', 'withdrawal', 'escrow_lock', 'escrow_release', 'payout', 'rake', 'refund')),
	amount_cts      BIGINT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'completed'
		CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
	match_ref       TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, id DESC);

CREATE TABLE IF NOT EXISTS ledger_claims (
	idempotency_key TEXT PRIMARY KEY,
	entry_id        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the DDL. Idempotent; safe to run at every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
