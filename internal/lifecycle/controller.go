package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skriptersz/agariogambling/internal/ledger"
	"github.com/Skriptersz/agariogambling/internal/match"
	"github.com/Skriptersz/agariogambling/internal/rng"
	"github.com/Skriptersz/agariogambling/internal/settlement"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
	loglifecycle "github.com/Skriptersz/agariogambling/logging/lifecycle"
)

// Precondition rejections surfaced to callers; sessions relay these as
// structured rejection codes.
var (
	ErrLobbyNotFound  = errors.New("lifecycle: lobby not found")
	ErrLobbyNotOpen   = errors.New("lifecycle: lobby is not accepting joins")
	ErrLobbyFull      = errors.New("lifecycle: lobby is full")
	ErrAlreadyMember  = errors.New("lifecycle: account is already a member")
	ErrNotMember      = errors.New("lifecycle: account is not a member")
	ErrMatchRunning   = errors.New("lifecycle: match has not ended")
	ErrTooFewMembers  = errors.New("lifecycle: not enough members to start")
	ErrMatchNotActive = errors.New("lifecycle: no running match with that id")
)

// MinMembers is the fewest players a timer-driven promotion will start a
// match with; below this the lobby cancels and refunds instead.
const MinMembers = 2

// Result is the envelope published to sessions after settlement: the final
// standings plus the revealed commitment material. It is the only place the
// seed and nonce ever leave the controller.
type Result struct {
	MatchID    string            `json:"matchId"`
	Placements []PlacementRecord `json:"placements"`
	SeedHex    string            `json:"seed"`
	NonceHex   string            `json:"nonce"`
	Commit     string            `json:"commit"`
}

// Broadcaster receives per-tick simulation output and the terminal result
// for fan-out to member sessions. The ingress layer implements it; a nil
// broadcaster drops everything, which tests rely on.
type Broadcaster interface {
	Snapshot(matchID string, snap match.Snapshot)
	Events(matchID string, events []match.Event)
	Result(matchID string, res Result)
}

// LobbySpec is the administrative surface's input to CreateLobby; parsing
// and authorization happen upstream.
type LobbySpec struct {
	Mode        Mode
	BuyInCts    int64
	Capacity    int
	PayoutModel settlement.Model
	RakeBps     int
	RakeCapCts  int64
}

// Config wires a Controller's collaborators.
type Config struct {
	Store       ledger.Store
	Repo        Repository
	Broadcaster Broadcaster
	Logger      telemetry.Logger
	Publisher   telemetry.Publisher
	MapRadius   float64
}

type runningMatch struct {
	record MatchRecord
	sim    *match.Match
	cancel context.CancelFunc
}

// Controller owns every lobby and running match. Lobby mutations are
// serialized under one mutex; each promoted match runs on its own goroutine
// and only re-enters the controller at settlement or abort.
type Controller struct {
	store       ledger.Store
	repo        Repository
	broadcaster Broadcaster
	logger      telemetry.Logger
	publisher   telemetry.Publisher
	mapRadius   float64

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	lobbies map[string]*Lobby
	running map[string]*runningMatch

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController constructs a Controller. Store and Repo are required; the
// rest default to no-ops.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:       cfg.Store,
		repo:        cfg.Repo,
		broadcaster: cfg.Broadcaster,
		logger:      logger,
		publisher:   cfg.Publisher,
		mapRadius:   cfg.MapRadius,
		now:         time.Now,
		newID:       uuid.NewString,
		lobbies:     make(map[string]*Lobby),
		running:     make(map[string]*runningMatch),
		rootCtx:     ctx,
		cancel:      cancel,
	}
}

// SetBroadcaster binds the fan-out sink after construction. The ingress hub
// needs the controller as its command gateway, so the two are built in
// sequence and joined here before any match can start.
func (c *Controller) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
}

// CreateLobby opens a new waiting room and returns its snapshot.
func (c *Controller) CreateLobby(ctx context.Context, spec LobbySpec) (Lobby, error) {
	if spec.BuyInCts <= 0 {
		return Lobby{}, fmt.Errorf("lifecycle: buy-in must be positive minor units, got %d", spec.BuyInCts)
	}
	if spec.Capacity < MinMembers {
		return Lobby{}, fmt.Errorf("lifecycle: capacity %d below minimum %d", spec.Capacity, MinMembers)
	}
	if spec.RakeBps < 0 || spec.RakeBps > 10000 {
		return Lobby{}, fmt.Errorf("lifecycle: rake %d bps out of range", spec.RakeBps)
	}
	switch spec.Mode {
	case ModeSolo, ModeDuo, ModeSquad:
	default:
		return Lobby{}, fmt.Errorf("lifecycle: unknown mode %q", spec.Mode)
	}
	switch spec.PayoutModel {
	case settlement.ModelWinnerTakeAll, settlement.ModelTop3Ladder, settlement.ModelProportional:
	default:
		return Lobby{}, fmt.Errorf("lifecycle: unknown payout model %q", spec.PayoutModel)
	}
	l := &Lobby{
		ID:          c.newID(),
		Mode:        spec.Mode,
		BuyInCts:    spec.BuyInCts,
		Capacity:    spec.Capacity,
		PayoutModel: spec.PayoutModel,
		RakeBps:     spec.RakeBps,
		RakeCapCts:  spec.RakeCapCts,
		State:       LobbyWaiting,
		CreatedAt:   c.now(),
	}
	c.mu.Lock()
	c.lobbies[l.ID] = l
	c.mu.Unlock()
	return *l, nil
}

// Join seats an account in a lobby, locking its buy-in into escrow. The
// escrow lock happens before the membership insert; if the insert path can
// no longer proceed the lock is released so no partial join survives. A
// full lobby promotes immediately.
func (c *Controller) Join(ctx context.Context, lobbyID, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lobbies[lobbyID]
	if !ok {
		return c.rejectJoin(ctx, lobbyID, accountID, ErrLobbyNotFound)
	}
	if l.State != LobbyWaiting {
		return c.rejectJoin(ctx, lobbyID, accountID, ErrLobbyNotOpen)
	}
	if l.isFull() {
		return c.rejectJoin(ctx, lobbyID, accountID, ErrLobbyFull)
	}
	if _, member := l.member(accountID); member {
		return c.rejectJoin(ctx, lobbyID, accountID, ErrAlreadyMember)
	}

	escrowKey := "lock:" + c.newID()
	if err := c.store.LockEscrow(ctx, escrowKey, accountID, lobbyID, l.BuyInCts); err != nil {
		c.rejectJoin(ctx, lobbyID, accountID, err)
		return err
	}

	teamNo := len(l.Members)/l.Mode.TeamSize() + 1
	l.Members = append(l.Members, Membership{
		AccountID: accountID,
		TeamNo:    teamNo,
		CellID:    "cell-" + c.newID(),
		EscrowKey: escrowKey,
		JoinedAt:  c.now(),
	})
	loglifecycle.LobbyJoined(ctx, c.publisher, loglifecycle.LobbyJoinedPayload{
		LobbyID: lobbyID, AccountID: accountID, Members: len(l.Members),
	})

	if l.isFull() {
		if err := c.promoteLocked(ctx, l); err != nil {
			// Promotion failure unwinds this join only; earlier members
			// keep their seats and escrow for the next attempt.
			l.removeMember(accountID)
			if rerr := c.store.ReleaseEscrow(ctx, "release:"+escrowKey, accountID, lobbyID, l.BuyInCts); rerr != nil {
				c.logger.Printf("lifecycle: release after failed promotion: %v", rerr)
			}
			return err
		}
	}
	return nil
}

func (c *Controller) rejectJoin(ctx context.Context, lobbyID, accountID string, err error) error {
	loglifecycle.LobbyJoinFailed(ctx, c.publisher, loglifecycle.LobbyJoinFailedPayload{
		LobbyID: lobbyID, AccountID: accountID, Reason: err.Error(),
	})
	return err
}

// Leave removes a member from a still-waiting lobby and returns its buy-in
// from escrow. Once a lobby is promoted there is no leaving; disconnects
// leave the cell idle in the arena.
func (c *Controller) Leave(ctx context.Context, lobbyID, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lobbies[lobbyID]
	if !ok {
		return ErrLobbyNotFound
	}
	if l.State != LobbyWaiting {
		return ErrLobbyNotOpen
	}
	m, member := l.member(accountID)
	if !member {
		return ErrNotMember
	}
	if err := c.store.ReleaseEscrow(ctx, "release:"+m.EscrowKey, accountID, lobbyID, l.BuyInCts); err != nil {
		return err
	}
	l.removeMember(accountID)
	loglifecycle.LobbyLeft(ctx, c.publisher, loglifecycle.LobbyLeftPayload{LobbyID: lobbyID, AccountID: accountID})
	return nil
}

// ExpireLobbies is the wait-timer sweep: lobbies older than maxWait promote
// with whoever is seated, or cancel and refund when below the minimum.
func (c *Controller) ExpireLobbies(ctx context.Context, maxWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, l := range c.lobbies {
		if l.State != LobbyWaiting || now.Sub(l.CreatedAt) < maxWait {
			continue
		}
		if len(l.Members) >= MinMembers {
			if err := c.promoteLocked(ctx, l); err != nil {
				c.logger.Printf("lifecycle: timer promotion of lobby %s: %v", l.ID, err)
			}
			continue
		}
		c.cancelLobbyLocked(ctx, l)
	}
}

func (c *Controller) cancelLobbyLocked(ctx context.Context, l *Lobby) {
	for _, m := range l.Members {
		if err := c.store.ReleaseEscrow(ctx, "release:"+m.EscrowKey, m.AccountID, l.ID, l.BuyInCts); err != nil {
			c.logger.Printf("lifecycle: release on lobby %s cancel: %v", l.ID, err)
		}
	}
	l.Members = nil
	l.State = LobbyCancelled
}

// promoteLocked materializes the match: draw the commitment, snapshot the
// money terms, persist the record, then start the simulation. The record
// write happens strictly before the first gameplay event can exist.
func (c *Controller) promoteLocked(ctx context.Context, l *Lobby) error {
	if len(l.Members) < MinMembers {
		return ErrTooFewMembers
	}
	commitment, err := rng.GenerateCommitment()
	if err != nil {
		return err
	}

	pot := l.BuyInCts * int64(len(l.Members))
	rake := settlement.Rake(pot, l.RakeBps, l.RakeCapCts)
	rec := MatchRecord{
		ID:          "match-" + c.newID(),
		LobbyID:     l.ID,
		SeedHex:     commitment.SeedHex(),
		NonceHex:    commitment.NonceHex(),
		Commit:      commitment.Commit,
		Mode:        l.Mode,
		PayoutModel: l.PayoutModel,
		RakeBps:     l.RakeBps,
		RakeCapCts:  l.RakeCapCts,
		BuyInCts:    l.BuyInCts,
		PotCts:      pot,
		RakeCts:     rake,
		NetPotCts:   pot - rake,
		MapRadius:   c.mapRadius,
		Members:     append([]Membership(nil), l.Members...),
		State:       MatchRunning,
		StartedAt:   c.now(),
	}
	if err := c.repo.CreateMatch(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: persist match record: %w", err)
	}

	players := make([]match.Player, 0, len(rec.Members))
	for _, m := range rec.Members {
		players = append(players, match.Player{
			AccountID: m.AccountID,
			CellID:    m.CellID,
			TeamNo:    m.TeamNo,
			BuyInCts:  l.BuyInCts,
		})
	}
	sim := match.New(match.Config{
		ID:          rec.ID,
		LobbyID:     l.ID,
		Seed:        commitment.Seed[:],
		Nonce:       commitment.Nonce[:],
		Commit:      commitment.Commit,
		PayoutModel: string(l.PayoutModel),
		RakeBps:     l.RakeBps,
		PotCts:      pot,
		RakeCts:     rake,
		NetPotCts:   pot - rake,
		MapRadius:   c.mapRadius,
		Players:     players,
		Logger:      c.logger,
		Publisher:   c.publisher,
	})

	l.State = LobbyPromoted
	l.MatchID = rec.ID

	matchCtx, cancel := context.WithCancel(c.rootCtx)
	rm := &runningMatch{record: rec, sim: sim, cancel: cancel}
	c.running[rec.ID] = rm

	loglifecycle.MatchPromoted(ctx, c.publisher, loglifecycle.MatchPromotedPayload{
		LobbyID: l.ID, MatchID: rec.ID, Commit: rec.Commit, PotCts: pot,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		match.Loop(matchCtx, sim, match.Hooks{
			OnSnapshot: func(snap match.Snapshot) {
				if c.broadcaster != nil {
					c.broadcaster.Snapshot(rec.ID, snap)
				}
			},
			OnEvents: func(events []match.Event) {
				if c.broadcaster != nil {
					c.broadcaster.Events(rec.ID, events)
				}
			},
			OnSettlement: func(m *match.Match) {
				c.settle(rm, m)
			},
		})
	}()
	return nil
}

// settle runs on the match goroutine after the simulation reaches its
// settlement phase: rank, compute payouts, apply them to the ledger in one
// idempotent call, finish the record, and only then reveal seed and nonce.
func (c *Controller) settle(rm *runningMatch, sim *match.Match) {
	ctx := context.Background()
	rec := rm.record

	placements := sim.Placements()
	finishers := make([]settlement.Finisher, 0, len(placements))
	for _, p := range placements {
		finishers = append(finishers, settlement.Finisher{AccountID: p.AccountID, Rank: p.Rank, Mass: p.Mass})
	}
	payouts, err := settlement.Compute(rec.PayoutModel, finishers, rec.NetPotCts)
	if err != nil {
		c.logger.Printf("lifecycle: payout computation for match %s: %v", rec.ID, err)
		c.abortRunning(ctx, rm, "payout_computation_failed")
		return
	}
	payoutByAccount := make(map[string]int64, len(payouts))
	for _, p := range payouts {
		payoutByAccount[p.AccountID] = p.AmountCts
	}

	entries := make([]ledger.SettlementEntry, 0, len(rec.Members))
	for _, m := range rec.Members {
		entries = append(entries, ledger.SettlementEntry{
			AccountID: m.AccountID,
			BuyInCts:  rec.BuyInCts,
			PayoutCts: payoutByAccount[m.AccountID],
		})
	}
	if err := c.store.Settle(ctx, "settle:"+rec.ID, rec.ID, entries, rec.RakeCts); err != nil {
		c.logger.Printf("lifecycle: ledger settle for match %s: %v", rec.ID, err)
		c.abortRunning(ctx, rm, "ledger_settle_failed")
		return
	}

	teamByAccount := make(map[string]int, len(rec.Members))
	for _, m := range rec.Members {
		teamByAccount[m.AccountID] = m.TeamNo
	}
	records := make([]PlacementRecord, 0, len(placements))
	for _, p := range placements {
		records = append(records, PlacementRecord{
			AccountID: p.AccountID,
			TeamNo:    teamByAccount[p.AccountID],
			Rank:      p.Rank,
			FinalMass: p.Mass,
			MaxMass:   p.MaxMass,
			PayoutCts: payoutByAccount[p.AccountID],
		})
	}
	endedAt := c.now()
	if err := c.repo.FinishMatch(ctx, rec.ID, MatchCompleted, endedAt, records, sim.Risk()); err != nil {
		c.logger.Printf("lifecycle: finish match %s: %v", rec.ID, err)
	}
	loglifecycle.MatchCompleted(ctx, c.publisher, loglifecycle.MatchCompletedPayload{MatchID: rec.ID})

	c.mu.Lock()
	delete(c.running, rec.ID)
	c.mu.Unlock()

	if c.broadcaster != nil {
		c.broadcaster.Result(rec.ID, Result{
			MatchID:    rec.ID,
			Placements: records,
			SeedHex:    rec.SeedHex,
			NonceHex:   rec.NonceHex,
			Commit:     rec.Commit,
		})
	}
}

// Abort administratively cancels a running match: the tick loop stops at
// the next boundary and every member's buy-in is refunded from escrow.
func (c *Controller) Abort(ctx context.Context, matchID, reason string) error {
	c.mu.Lock()
	rm, ok := c.running[matchID]
	c.mu.Unlock()
	if !ok {
		return ErrMatchNotActive
	}
	c.abortRunning(ctx, rm, reason)
	return nil
}

func (c *Controller) abortRunning(ctx context.Context, rm *runningMatch, reason string) {
	rm.cancel()
	rec := rm.record
	if err := c.refundMembers(ctx, rec); err != nil {
		c.logger.Printf("lifecycle: refund for aborted match %s: %v", rec.ID, err)
	}
	if err := c.repo.FinishMatch(ctx, rec.ID, MatchRefunded, c.now(), nil, rm.sim.Risk()); err != nil {
		c.logger.Printf("lifecycle: finish aborted match %s: %v", rec.ID, err)
	}
	loglifecycle.MatchAborted(ctx, c.publisher, loglifecycle.MatchAbortedPayload{MatchID: rec.ID, Reason: reason})

	c.mu.Lock()
	delete(c.running, rec.ID)
	c.mu.Unlock()

	if c.broadcaster != nil {
		c.broadcaster.Events(rec.ID, []match.Event{{Kind: match.EventKindEnd, Data: map[string]any{"reason": reason}}})
	}
}

func (c *Controller) refundMembers(ctx context.Context, rec MatchRecord) error {
	amounts := make(map[string]int64, len(rec.Members))
	for _, m := range rec.Members {
		amounts[m.AccountID] = rec.BuyInCts
	}
	return c.store.Refund(ctx, "refund:"+rec.ID, rec.ID, amounts)
}

// Recover refunds every match the previous process left unfinished. It must
// run before the controller accepts new joins so no escrow stays orphaned.
func (c *Controller) Recover(ctx context.Context) error {
	unfinished, err := c.repo.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: list unfinished matches: %w", err)
	}
	for _, rec := range unfinished {
		if err := c.refundMembers(ctx, rec); err != nil {
			return fmt.Errorf("lifecycle: recovery refund for match %s: %w", rec.ID, err)
		}
		if err := c.repo.FinishMatch(ctx, rec.ID, MatchRefunded, c.now(), nil, 0); err != nil {
			return fmt.Errorf("lifecycle: finish recovered match %s: %w", rec.ID, err)
		}
		loglifecycle.RecoveryRefunded(ctx, c.publisher, loglifecycle.RecoveryRefundedPayload{
			MatchID: rec.ID, Members: len(rec.Members),
		})
	}
	return nil
}

// Input routes a session's validated command to the owning match.
func (c *Controller) Input(matchID string, cmd match.InputCommand) (accepted bool, reason string) {
	c.mu.Lock()
	rm, ok := c.running[matchID]
	c.mu.Unlock()
	if !ok {
		return false, "match_not_active"
	}
	return rm.sim.Enqueue(cmd)
}

// MemberCell resolves an account's cell in a match, for session binding.
func (c *Controller) MemberCell(ctx context.Context, matchID, accountID string) (string, error) {
	rec, err := c.repo.GetMatch(ctx, matchID)
	if err != nil {
		return "", err
	}
	for _, m := range rec.Members {
		if m.AccountID == accountID {
			return m.CellID, nil
		}
	}
	return "", ErrNotMember
}

// Reveal returns the full record including seed and nonce, but only once
// the match has ended; before that callers get ErrMatchRunning and must
// make do with the commit alone.
func (c *Controller) Reveal(ctx context.Context, matchID string) (MatchRecord, error) {
	rec, err := c.repo.GetMatch(ctx, matchID)
	if err != nil {
		return MatchRecord{}, err
	}
	if rec.EndedAt == nil {
		return MatchRecord{}, ErrMatchRunning
	}
	return rec, nil
}

// Lobby returns a snapshot of one lobby.
func (c *Controller) Lobby(lobbyID string) (Lobby, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lobbies[lobbyID]
	if !ok {
		return Lobby{}, ErrLobbyNotFound
	}
	out := *l
	out.Members = append([]Membership(nil), l.Members...)
	return out, nil
}

// Shutdown cancels every running match loop without refunding; the next
// process's Recover pass settles the books. Blocks until all loops return.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
