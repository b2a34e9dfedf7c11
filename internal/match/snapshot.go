package match

import (
	"sort"

	"github.com/Skriptersz/agariogambling/internal/physics"
)

// CellView is the read-only projection of a cell exposed in a Snapshot.
type CellView struct {
	ID       string          `json:"id"`
	Position physics.Vector2 `json:"position"`
	Radius   float64         `json:"radius"`
	Mass     float64         `json:"mass"`
	Team     int             `json:"team"`
	IsDead   bool            `json:"isDead"`
}

// PelletView is the read-only projection of a pellet exposed in a Snapshot.
type PelletView struct {
	ID       string          `json:"id"`
	Position physics.Vector2 `json:"position"`
	Radius   float64         `json:"radius"`
}

// Snapshot is the per-tick state broadcast to every member session.
type Snapshot struct {
	Tick      uint64       `json:"tick"`
	Phase     Phase        `json:"phase"`
	Cells     []CellView   `json:"cells"`
	Pellets   []PelletView `json:"pellets"`
	FogRadius float64      `json:"fogRadius"`
}

// EventKind enumerates the out-of-band events a match emits alongside
// snapshots.
type EventKind string

const (
	EventKindCountdown EventKind = "COUNTDOWN"
	EventKindKill      EventKind = "KILL"
	EventKindShrink    EventKind = "SHRINK"
	EventKindEnd       EventKind = "END"
)

// Event is a discrete occurrence a match emits once, distinct from the
// continuous snapshot stream.
type Event struct {
	Kind EventKind
	Tick uint64
	Data map[string]any
}

// Snapshot returns the current arena state under a read lock, so it is safe
// to call from outside the tick loop.
func (m *Match) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cells := make([]CellView, 0, len(m.cells))
	for _, c := range m.cells {
		cells = append(cells, CellView{
			ID:       c.ID,
			Position: c.Position,
			Radius:   c.Radius(),
			Mass:     c.Mass,
			Team:     c.TeamNo,
			IsDead:   c.IsDead,
		})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	pellets := make([]PelletView, 0, len(m.pellets))
	for _, p := range m.pellets {
		if p.Consumed {
			continue
		}
		pellets = append(pellets, PelletView{
			ID:       p.ID,
			Position: p.Position,
			Radius:   p.Radius(),
		})
	}
	sort.Slice(pellets, func(i, j int) bool { return pellets[i].ID < pellets[j].ID })
	return Snapshot{
		Tick:      m.tick,
		Phase:     m.phase,
		Cells:     cells,
		Pellets:   pellets,
		FogRadius: m.fogRadius,
	}
}
