package match

import (
	"time"

	"github.com/Skriptersz/agariogambling/internal/physics"
)

// Spawn places each player's cell on the "spawn" stream, scatters pellets
// on the "pellets" stream, and sets the fog radius to the full map. It must
// run exactly once, before the first tick.
func (m *Match) Spawn(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Draw order must match join order exactly or replays diverge.
	spawnStream := m.streams.Tag("spawn")
	spawnRadius := m.MapRadius * SpawnDiskFraction
	for _, accountID := range m.playerOrder {
		p := m.players[accountID]
		x, y := spawnStream.PointInDisk(spawnRadius)
		cell := &physics.Cell{
			ID:        p.CellID,
			TeamNo:    p.TeamNo,
			Position:  physics.Vector2{X: x, Y: y},
			Velocity:  physics.Vector2{},
			Mass:      InitialCellMass,
			GrowthCap: physics.GrowthCap(p.BuyInCts),
			MaxMass:   InitialCellMass,
		}
		m.cells[cell.ID] = cell
	}

	pelletStream := m.streams.Tag("pellets")
	for i := 0; i < PelletTarget; i++ {
		x, y := pelletStream.PointInDisk(m.MapRadius)
		id := m.newPelletID()
		m.pellets[id] = &physics.Pellet{
			ID:       id,
			Position: physics.Vector2{X: x, Y: y},
			Mass:     physics.PelletMass,
		}
	}

	m.fogRadius = m.MapRadius
	m.tick = 0
	m.phase = PhaseCountdown
	m.StartedAt = now
	m.phaseEnteredAt = now
}
