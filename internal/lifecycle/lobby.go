// Package lifecycle is the lobby/match lifecycle controller. It owns the
// waiting-room-to-settled state machine, is the only caller
// that moves a player's funds into or out of escrow, and is responsible
// for refunding every member of any match that crashed mid-round.
package lifecycle

import (
	"time"

	"github.com/Skriptersz/agariogambling/internal/settlement"
)

// Mode groups players into teams of a fixed size.
type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeDuo   Mode = "duo"
	ModeSquad Mode = "squad"
)

// TeamSize returns how many players share a team in this mode.
func (m Mode) TeamSize() int {
	switch m {
	case ModeDuo:
		return 2
	case ModeSquad:
		return 4
	default:
		return 1
	}
}

// LobbyState enumerates a lobby's position in its lifecycle. A promoted
// lobby's further progress is tracked by its match (the coarse state on its
// MatchRecord, the per-tick phase in the running simulation); the lobby
// itself only remembers that it was
// promoted and into which match.
type LobbyState string

const (
	LobbyWaiting   LobbyState = "waiting"
	LobbyPromoted  LobbyState = "promoted"
	LobbyCancelled LobbyState = "cancelled"
)

// Membership is one player's seat in a lobby. EscrowKey is the idempotency
// key the join used to lock the buy-in; a leave or cancellation releases
// under the derived key "release:" + EscrowKey and the same match_ref.
type Membership struct {
	AccountID string
	TeamNo    int
	CellID    string
	EscrowKey string
	JoinedAt  time.Time
}

// Lobby is a pre-match waiting room: a fixed buy-in and capacity, filled by
// Join calls, torn down by Leave calls, and promoted into a Match once full
// or once its wait timer expires with enough members.
type Lobby struct {
	ID          string
	Mode        Mode
	BuyInCts    int64
	Capacity    int
	PayoutModel settlement.Model
	RakeBps     int
	RakeCapCts  int64
	Members     []Membership // join order
	State       LobbyState
	MatchID     string
	CreatedAt   time.Time
}

func (l *Lobby) member(accountID string) (Membership, bool) {
	for _, m := range l.Members {
		if m.AccountID == accountID {
			return m, true
		}
	}
	return Membership{}, false
}

func (l *Lobby) removeMember(accountID string) {
	for i, m := range l.Members {
		if m.AccountID == accountID {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			return
		}
	}
}

func (l *Lobby) isFull() bool {
	return len(l.Members) >= l.Capacity
}
