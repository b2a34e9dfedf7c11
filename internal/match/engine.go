package match

import (
	"context"
	"time"
)

// Engine is the narrow surface Match exposes to a driver: spawn, step,
// observe, and enqueue input. The lifecycle controller holds a concrete
// *Match; no other package refers to this interface.
type Engine interface {
	Spawn(now time.Time)
	Step(ctx context.Context, now time.Time) []Event
	Snapshot() Snapshot
	Enqueue(cmd InputCommand) (accepted bool, reason string)
	Phase() Phase
	Tick() uint64
}

var _ Engine = (*Match)(nil)
