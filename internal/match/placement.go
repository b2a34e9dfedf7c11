package match

import "sort"

// Placement is one player's final standing, used by settlement to compute
// payouts once a match reaches PhaseSettlement.
type Placement struct {
	AccountID string
	Rank      int
	Mass      float64
	MaxMass   float64
	Kills     int
}

// Placements ranks every player by final cell mass descending, breaking
// ties by account id ascending so replays rank identically.
func (m *Match) Placements() []Placement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	placements := make([]Placement, 0, len(m.players))
	for accountID, p := range m.players {
		cell, ok := m.cells[p.CellID]
		mass := 0.0
		maxMass := 0.0
		kills := 0
		if ok {
			mass = cell.Mass
			maxMass = cell.MaxMass
			kills = cell.Kills
		}
		placements = append(placements, Placement{AccountID: accountID, Mass: mass, MaxMass: maxMass, Kills: kills})
	}
	sort.Slice(placements, func(i, j int) bool {
		if placements[i].Mass != placements[j].Mass {
			return placements[i].Mass > placements[j].Mass
		}
		return placements[i].AccountID < placements[j].AccountID
	})
	for i := range placements {
		placements[i].Rank = i + 1
	}
	return placements
}
