package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Skriptersz/agariogambling/internal/settlement"
)

// MatchState is the persisted coarse state of a match record. The fine
// per-tick phase lives only in the running simulation; the record is what
// crash recovery reads.
type MatchState string

const (
	MatchRunning   MatchState = "running"
	MatchCompleted MatchState = "completed"
	MatchRefunded  MatchState = "refunded"
)

// PlacementRecord is one player's persisted final standing and payout.
type PlacementRecord struct {
	AccountID string  `json:"accountId"`
	TeamNo    int     `json:"team"`
	Rank      int     `json:"placement"`
	FinalMass float64 `json:"finalMass"`
	MaxMass   float64 `json:"maxMass"`
	PayoutCts int64   `json:"payoutCents"`
}

// MatchRecord is the durable slice of a match: enough to recover (refund
// members of an unfinished match) and to serve the post-settlement reveal.
// SeedHex and NonceHex are persisted at promotion but MUST NOT leave the
// repository until EndedAt is set.
type MatchRecord struct {
	ID          string
	LobbyID     string
	SeedHex     string
	NonceHex    string
	Commit      string
	Mode        Mode
	PayoutModel settlement.Model
	RakeBps     int
	RakeCapCts  int64
	BuyInCts    int64
	PotCts      int64
	RakeCts     int64
	NetPotCts   int64
	MapRadius   float64
	Members     []Membership
	State       MatchState
	Placements  []PlacementRecord
	StartedAt   time.Time
	EndedAt     *time.Time
	RiskCount   int
}

// ErrMatchNotFound is returned by repositories for unknown match ids.
var ErrMatchNotFound = errors.New("lifecycle: match not found")

// Repository persists match records across process restarts. The commitment
// row must be durable before any gameplay event is emitted, so CreateMatch
// is called synchronously inside promotion.
type Repository interface {
	CreateMatch(ctx context.Context, rec MatchRecord) error
	GetMatch(ctx context.Context, matchID string) (MatchRecord, error)

	// ListUnfinished returns every record still in MatchRunning; recovery
	// refunds their members on startup.
	ListUnfinished(ctx context.Context) ([]MatchRecord, error)

	// FinishMatch sets the terminal state, ended_at, and (for completed
	// matches) the placement vector. It is idempotent: finishing an already
	// finished match leaves the first outcome in place.
	FinishMatch(ctx context.Context, matchID string, state MatchState, endedAt time.Time, placements []PlacementRecord, riskCount int) error
}

// MemRepository is an in-memory Repository for tests and for running
// without a configured database.
type MemRepository struct {
	mu      sync.Mutex
	records map[string]*MatchRecord
}

func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[string]*MatchRecord)}
}

func (r *MemRepository) CreateMatch(ctx context.Context, rec MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := rec
	stored.Members = append([]Membership(nil), rec.Members...)
	r.records[rec.ID] = &stored
	return nil
}

func (r *MemRepository) GetMatch(ctx context.Context, matchID string) (MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return MatchRecord{}, ErrMatchNotFound
	}
	return *rec, nil
}

func (r *MemRepository) ListUnfinished(ctx context.Context) ([]MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MatchRecord
	for _, rec := range r.records {
		if rec.State == MatchRunning {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *MemRepository) FinishMatch(ctx context.Context, matchID string, state MatchState, endedAt time.Time, placements []PlacementRecord, riskCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	if rec.State != MatchRunning {
		return nil
	}
	rec.State = state
	rec.EndedAt = &endedAt
	rec.Placements = append([]PlacementRecord(nil), placements...)
	rec.RiskCount = riskCount
	return nil
}

var _ Repository = (*MemRepository)(nil)
