package match

import (
	"time"

	"github.com/Skriptersz/agariogambling/internal/physics"
)

// InputCommand carries one player's latest desired movement for the next
// tick. ClientSeq/ClientTimestamp are recorded for anti-cheat collaborators;
// the simulation does not read them (sequence de-duplication happens in the
// ingress session before a command is enqueued).
type InputCommand struct {
	CellID          string
	Axes            physics.Vector2
	Boost           bool
	ClientSeq       uint64
	ClientTimestamp time.Time
	EnqueuedAt      time.Time
}

// Reject reasons surfaced to the ingress session.
const (
	RejectUnknownCell = "unknown_cell"
	RejectInvalidAxes = "invalid_axes"
	RejectQueueFull   = "queue_full"
	RejectWrongPhase  = "wrong_phase"
)
