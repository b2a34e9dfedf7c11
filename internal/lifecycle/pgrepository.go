package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skriptersz/agariogambling/internal/settlement"
)

// RepositorySchema is the DDL the PgRepository expects. The record is the
// refund manifest for escrowed buy-ins, so it lives in the same database as
// the ledger and is written before any gameplay event is emitted.
const RepositorySchema = `
CREATE TABLE IF NOT EXISTS match_records (
	id            TEXT PRIMARY KEY,
	lobby_id      TEXT NOT NULL,
	seed_hex      TEXT NOT NULL,
	nonce_hex     TEXT NOT NULL,
	commit_hex    TEXT NOT NULL,
	mode          TEXT NOT NULL,
	payout_model  TEXT NOT NULL,
	rake_bps      INT NOT NULL DEFAULT 0,
	rake_cap_cts  BIGINT NOT NULL DEFAULT 0,
	buy_in_cts    BIGINT NOT NULL CHECK (buy_in_cts >= 0),
	pot_cts       BIGINT NOT NULL DEFAULT 0,
	rake_cts      BIGINT NOT NULL DEFAULT 0,
	net_pot_cts   BIGINT NOT NULL DEFAULT 0,
	map_radius    DOUBLE PRECISION NOT NULL DEFAULT 0,
	members       JSONB NOT NULL DEFAULT '[]',
	state         TEXT NOT NULL DEFAULT 'running'
		CHECK (state IN ('running', 'completed', 'refunded')),
	placements    JSONB NOT NULL DEFAULT '[]',
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	risk_count    INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS match_records_state_idx ON match_records (state);
`

// EnsureRepositorySchema applies the DDL. Idempotent; safe to run at every
// startup.
func EnsureRepositorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, RepositorySchema)
	return err
}

const repoSerializationFailure = "40001"

const repoMaxRetries = 5

// PgRepository is a Postgres-backed Repository. CreateMatch runs
// synchronously inside promotion, so the refund manifest is durable before the
// first tick; ListUnfinished after a restart therefore sees every match whose
// escrow is still locked.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository wraps an existing connection pool. The match_records table
// is assumed to be migrated via EnsureRepositorySchema.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) withSerializableRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < repoMaxRetries; attempt++ {
		lastErr = r.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(lastErr, &pgErr) && pgErr.Code == repoSerializationFailure {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return lastErr
	}
	return fmt.Errorf("lifecycle: exceeded %d retries: %w", repoMaxRetries, lastErr)
}

func (r *PgRepository) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateMatch inserts the record under ON CONFLICT DO NOTHING so a replayed
// promotion never clobbers a record that may already be finished.
func (r *PgRepository) CreateMatch(ctx context.Context, rec MatchRecord) error {
	members, err := json.Marshal(rec.Members)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal members: %w", err)
	}
	placements, err := json.Marshal(rec.Placements)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal placements: %w", err)
	}
	return r.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO match_records
				(id, lobby_id, seed_hex, nonce_hex, commit_hex, mode, payout_model,
				 rake_bps, rake_cap_cts, buy_in_cts, pot_cts, rake_cts, net_pot_cts,
				 map_radius, members, state, placements, started_at, ended_at, risk_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.LobbyID, rec.SeedHex, rec.NonceHex, rec.Commit,
			string(rec.Mode), string(rec.PayoutModel),
			rec.RakeBps, rec.RakeCapCts, rec.BuyInCts, rec.PotCts, rec.RakeCts, rec.NetPotCts,
			rec.MapRadius, members, string(rec.State), placements,
			rec.StartedAt, rec.EndedAt, rec.RiskCount)
		return err
	})
}

func (r *PgRepository) GetMatch(ctx context.Context, matchID string) (MatchRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT id, lobby_id, seed_hex, nonce_hex, commit_hex, mode, payout_model,
			rake_bps, rake_cap_cts, buy_in_cts, pot_cts, rake_cts, net_pot_cts,
			map_radius, members, state, placements, started_at, ended_at, risk_count
		 FROM match_records WHERE id = $1`, matchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return MatchRecord{}, ErrMatchNotFound
	}
	return rec, err
}

func (r *PgRepository) ListUnfinished(ctx context.Context) ([]MatchRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, lobby_id, seed_hex, nonce_hex, commit_hex, mode, payout_model,
			rake_bps, rake_cap_cts, buy_in_cts, pot_cts, rake_cts, net_pot_cts,
			map_radius, members, state, placements, started_at, ended_at, risk_count
		 FROM match_records WHERE state = $1 ORDER BY started_at`, string(MatchRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FinishMatch is idempotent: the UPDATE only hits rows still in running, so
// finishing an already finished match leaves the first outcome in place.
func (r *PgRepository) FinishMatch(ctx context.Context, matchID string, state MatchState, endedAt time.Time, placements []PlacementRecord, riskCount int) error {
	encoded, err := json.Marshal(placements)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal placements: %w", err)
	}
	return r.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE match_records
			 SET state = $2, ended_at = $3, placements = $4, risk_count = $5
			 WHERE id = $1 AND state = $6`,
			matchID, string(state), endedAt, encoded, riskCount, string(MatchRunning))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM match_records WHERE id = $1)`, matchID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrMatchNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (MatchRecord, error) {
	var (
		rec         MatchRecord
		mode        string
		payoutModel string
		state       string
		members     []byte
		placements  []byte
	)
	err := row.Scan(&rec.ID, &rec.LobbyID, &rec.SeedHex, &rec.NonceHex, &rec.Commit,
		&mode, &payoutModel,
		&rec.RakeBps, &rec.RakeCapCts, &rec.BuyInCts, &rec.PotCts, &rec.RakeCts, &rec.NetPotCts,
		&rec.MapRadius, &members, &state, &placements,
		&rec.StartedAt, &rec.EndedAt, &rec.RiskCount)
	if err != nil {
		return MatchRecord{}, err
	}
	rec.Mode = Mode(mode)
	rec.PayoutModel = settlement.Model(payoutModel)
	rec.State = MatchState(state)
	if err := json.Unmarshal(members, &rec.Members); err != nil {
		return MatchRecord{}, fmt.Errorf("lifecycle: unmarshal members: %w", err)
	}
	if err := json.Unmarshal(placements, &rec.Placements); err != nil {
		return MatchRecord{}, fmt.Errorf("lifecycle: unmarshal placements: %w", err)
	}
	return rec, nil
}

var _ Repository = (*PgRepository)(nil)
