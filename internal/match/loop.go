package match

import (
	"context"
	"time"

	"github.com/Skriptersz/agariogambling/internal/physics"
)

// Hooks lets callers observe each tick without coupling the loop to any
// particular transport; the lifecycle controller wires OnSnapshot/OnEvents
// to its broadcaster and OnSettlement to trigger payout.
type Hooks struct {
	OnSnapshot   func(Snapshot)
	OnEvents     func([]Event)
	OnSettlement func(*Match)
}

// Loop drives a Match at the fixed tick rate until ctx is cancelled or the
// match reaches PhaseSettlement. One goroutine owns each match; no external
// caller ever touches Match state directly.
func Loop(ctx context.Context, m *Match, hooks Hooks) {
	interval := physics.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Spawn(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			events := m.Step(ctx, now)
			if hooks.OnEvents != nil && len(events) > 0 {
				hooks.OnEvents(events)
			}
			if hooks.OnSnapshot != nil {
				hooks.OnSnapshot(m.Snapshot())
			}
			if m.Phase() == PhaseSettlement {
				if hooks.OnSettlement != nil {
					hooks.OnSettlement(m)
				}
				return
			}
		}
	}
}
