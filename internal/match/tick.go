package match

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Skriptersz/agariogambling/internal/physics"
	logmatch "github.com/Skriptersz/agariogambling/logging/match"
)

// Step advances the simulation by one tick, draining any staged input
// first. It runs the fixed per-tick update order (inputs, phase transitions,
// movement and fog, cell eats, pellet consumption, pellet respawn), returns
// the events raised along the way, and recovers from any panic inside a single
// step so one bad tick cannot take down the whole match; the risk counter
// records how many times that happened.
func (m *Match) Step(ctx context.Context, now time.Time) []Event {
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.riskCount++
			tick := m.tick
			m.mu.Unlock()
			logmatch.TickPanic(ctx, m.publisher, m.ID, tick, logmatch.TickPanicPayload{
				Stage: "step",
				Error: fmt.Sprintf("%v", r),
			})
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cmd := range m.commands.Drain() {
		cell, ok := m.cells[cmd.CellID]
		if !ok || cell.IsDead {
			continue
		}
		cell.Axes = cmd.Axes
		if cmd.Boost {
			cell.Boost = true
		}
	}

	m.tick++
	var events []Event

	switch m.phase {
	case PhaseCountdown:
		if m.tick == 1 {
			remaining := CountdownDuration - now.Sub(m.phaseEnteredAt)
			events = append(events, Event{Kind: EventKindCountdown, Tick: m.tick, Data: map[string]any{"remainingMs": remaining.Milliseconds()}})
		}
		if now.Sub(m.phaseEnteredAt) >= CountdownDuration {
			m.phase = PhaseActive
			m.phaseEnteredAt = now
			m.activeEnteredAt = now
			logmatch.PhaseChanged(ctx, m.publisher, m.ID, m.tick, logmatch.PhaseChangedPayload{From: string(PhaseCountdown), To: string(PhaseActive)})
		}
		return events
	case PhaseSettlement:
		return events
	}

	if m.phase == PhaseActive && now.Sub(m.activeEnteredAt) >= ActiveDuration {
		m.phase = PhaseShrink
		m.phaseEnteredAt = now
		logmatch.PhaseChanged(ctx, m.publisher, m.ID, m.tick, logmatch.PhaseChangedPayload{From: string(PhaseActive), To: string(PhaseShrink)})
		events = append(events, Event{Kind: EventKindShrink, Tick: m.tick, Data: map[string]any{"fogRadius": m.fogRadius}})
		logmatch.Shrink(ctx, m.publisher, m.ID, m.tick, logmatch.ShrinkPayload{FogRadius: m.fogRadius})
	}

	hardCapped := now.Sub(m.activeEnteredAt) >= HardCapDuration
	if m.phase == PhaseShrink {
		elapsed := now.Sub(m.phaseEnteredAt)
		frac := elapsed.Seconds() / ShrinkDuration.Seconds()
		if frac > 1 {
			frac = 1
		}
		m.fogRadius = m.MapRadius * (1 - FogShrinkFraction*frac)
		if elapsed >= ShrinkDuration || hardCapped {
			m.phase = PhaseSettlement
			m.phaseEnteredAt = now
			m.EndedAt = now
			logmatch.PhaseChanged(ctx, m.publisher, m.ID, m.tick, logmatch.PhaseChangedPayload{From: string(PhaseShrink), To: string(PhaseSettlement)})
			events = append(events, Event{Kind: EventKindEnd, Tick: m.tick, Data: map[string]any{"reason": "shrink_complete"}})
			logmatch.End(ctx, m.publisher, m.ID, m.tick, logmatch.EndPayload{Reason: "shrink_complete"})
			return events
		}
	} else if hardCapped {
		m.phase = PhaseSettlement
		m.phaseEnteredAt = now
		m.EndedAt = now
		logmatch.PhaseChanged(ctx, m.publisher, m.ID, m.tick, logmatch.PhaseChangedPayload{From: string(PhaseActive), To: string(PhaseSettlement)})
		events = append(events, Event{Kind: EventKindEnd, Tick: m.tick, Data: map[string]any{"reason": "hard_cap"}})
		logmatch.End(ctx, m.publisher, m.ID, m.tick, logmatch.EndPayload{Reason: "hard_cap"})
		return events
	}

	dt := physics.TickInterval().Seconds()
	for _, cell := range m.cells {
		if cell.IsDead {
			continue
		}
		physics.Advance(cell, dt, now)
		physics.ClampToMap(cell, m.MapRadius)
		if m.phase == PhaseShrink {
			physics.ApplyFog(cell, m.fogRadius, dt)
		}
	}

	ids := make([]string, 0, len(m.cells))
	for id := range m.cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i := 0; i < len(ids); i++ {
		a := m.cells[ids[i]]
		if a.IsDead {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b := m.cells[ids[j]]
			if b.IsDead {
				continue
			}
			if physics.TryEat(a, b, a.GrowthCap) {
				events = append(events, Event{Kind: EventKindKill, Tick: m.tick, Data: map[string]any{"killer": a.ID, "victim": b.ID}})
				logmatch.Kill(ctx, m.publisher, m.ID, m.tick, logmatch.KillPayload{
					KillerID: a.ID, VictimID: b.ID, KillerMass: a.Mass, VictimMass: b.Mass,
				})
				continue
			}
			if physics.TryEat(b, a, b.GrowthCap) {
				events = append(events, Event{Kind: EventKindKill, Tick: m.tick, Data: map[string]any{"killer": b.ID, "victim": a.ID}})
				logmatch.Kill(ctx, m.publisher, m.ID, m.tick, logmatch.KillPayload{
					KillerID: b.ID, VictimID: a.ID, KillerMass: b.Mass, VictimMass: a.Mass,
				})
			}
		}
	}

	pelletIDs := make([]string, 0, len(m.pellets))
	for id := range m.pellets {
		pelletIDs = append(pelletIDs, id)
	}
	sort.Strings(pelletIDs)
	for _, id := range ids {
		cell := m.cells[id]
		if cell.IsDead {
			continue
		}
		for _, pelletID := range pelletIDs {
			pellet, ok := m.pellets[pelletID]
			if !ok || pellet.Consumed {
				continue
			}
			if physics.TryConsume(cell, pellet, cell.GrowthCap) {
				delete(m.pellets, pelletID)
			}
		}
	}

	if len(m.pellets) < PelletTarget {
		prob := PelletRespawnProbability
		if m.phase == PhaseShrink {
			prob /= 2
		}
		if m.streams.Tag("pellets").Float64() < prob {
			id := m.newPelletID()
			x, y := m.streams.Tag("pellets").PointInDisk(m.MapRadius)
			m.pellets[id] = &physics.Pellet{ID: id, Position: physics.Vector2{X: x, Y: y}, Mass: physics.PelletMass}
		}
	}

	return events
}

