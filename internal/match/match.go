package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/Skriptersz/agariogambling/internal/physics"
	"github.com/Skriptersz/agariogambling/internal/rng"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
	"github.com/Skriptersz/agariogambling/logging"
)

// Player is a match participant's static identity and financial stake. It
// never mutates after spawn; only the Cell it owns does.
type Player struct {
	AccountID string
	CellID    string
	TeamNo    int
	BuyInCts  int64
}

// Config carries everything a Match needs to exist that isn't produced by
// the simulation itself.
type Config struct {
	ID          string
	LobbyID     string
	Seed        []byte
	Nonce       []byte
	Commit      string
	PayoutModel string
	RakeBps     int
	PotCts      int64
	RakeCts     int64
	NetPotCts   int64
	MapRadius   float64
	Players     []Player
	Logger      telemetry.Logger
	Publisher   telemetry.Publisher
}

// Match is the authoritative, single-owner-goroutine simulation for one
// round. All exported mutation happens only from the owning tick loop;
// other goroutines read it only through the read-locked accessors
// (Snapshot, Phase, Tick, Risk, Placements).
type Match struct {
	ID          string
	LobbyID     string
	Seed        []byte
	Nonce       []byte
	Commit      string
	PayoutModel string
	RakeBps     int
	PotCts      int64
	RakeCts     int64
	NetPotCts   int64
	MapRadius   float64

	StartedAt time.Time
	EndedAt   time.Time

	streams  *rng.Streams
	commands *CommandBuffer

	logger    telemetry.Logger
	publisher telemetry.Publisher

	mu sync.RWMutex

	tick  uint64
	phase Phase

	phaseEnteredAt  time.Time
	activeEnteredAt time.Time

	fogRadius float64

	players     map[string]*Player
	playerOrder []string // account IDs in join order; fixes spawn draw order
	cells       map[string]*physics.Cell
	pellets     map[string]*physics.Pellet

	nextPelletSeq int

	// riskCount counts tick-handler panics recovered without aborting the
	// match. A nonzero value after a completed match is a signal worth
	// surfacing to operators even though the match itself finished normally.
	riskCount int

	pendingEvents []Event
}

// New constructs a Match in PhaseCountdown with no cells or pellets spawned
// yet; call Spawn to populate the arena before the first tick.
func New(cfg Config) *Match {
	players := make(map[string]*Player, len(cfg.Players))
	playerOrder := make([]string, 0, len(cfg.Players))
	for i := range cfg.Players {
		p := cfg.Players[i]
		players[p.AccountID] = &p
		playerOrder = append(playerOrder, p.AccountID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	m := &Match{
		ID:          cfg.ID,
		LobbyID:     cfg.LobbyID,
		Seed:        cfg.Seed,
		Nonce:       cfg.Nonce,
		Commit:      cfg.Commit,
		PayoutModel: cfg.PayoutModel,
		RakeBps:     cfg.RakeBps,
		PotCts:      cfg.PotCts,
		RakeCts:     cfg.RakeCts,
		NetPotCts:   cfg.NetPotCts,
		MapRadius:   cfg.MapRadius,
		streams:     rng.NewStreams(cfg.Seed),
		commands:    NewCommandBuffer(256),
		logger:      logger,
		publisher:   publisher,
		phase:       PhaseCountdown,
		fogRadius:   cfg.MapRadius,
		players:     players,
		playerOrder: playerOrder,
		cells:       make(map[string]*physics.Cell),
		pellets:     make(map[string]*physics.Pellet),
	}
	return m
}

// Phase returns the match's current phase. Safe for concurrent callers.
func (m *Match) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Tick returns the number of ticks advanced so far. Safe for concurrent
// callers.
func (m *Match) Tick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

// Risk returns how many per-tick panics were recovered so far. Safe for
// concurrent callers.
func (m *Match) Risk() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.riskCount
}

// Enqueue stages a player's input for the next tick. It never blocks the
// caller on simulation state; a full queue simply rejects the command.
func (m *Match) Enqueue(cmd InputCommand) (accepted bool, reason string) {
	if _, exists := m.cellOwner(cmd.CellID); !exists {
		return false, RejectUnknownCell
	}
	if cmd.Axes.Length() > 1.0001 {
		return false, RejectInvalidAxes
	}
	m.mu.RLock()
	phase := m.phase
	m.mu.RUnlock()
	if phase != PhaseActive && phase != PhaseShrink {
		return false, RejectWrongPhase
	}
	if !m.commands.Push(cmd) {
		return false, RejectQueueFull
	}
	return true, ""
}

func (m *Match) cellOwner(cellID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if p.CellID == cellID {
			return p, true
		}
	}
	return nil, false
}

func (m *Match) newPelletID() string {
	m.nextPelletSeq++
	return fmt.Sprintf("pellet-%d", m.nextPelletSeq)
}
