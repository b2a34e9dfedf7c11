package lifecycle

import "time"

// LobbyDiagnostics is one lobby's row in the diagnostics snapshot.
type LobbyDiagnostics struct {
	ID        string     `json:"id"`
	Mode      Mode       `json:"mode"`
	State     LobbyState `json:"state"`
	Members   int        `json:"members"`
	Capacity  int        `json:"capacity"`
	BuyInCts  int64      `json:"buyInCents"`
	CreatedAt time.Time  `json:"createdAt"`
}

// MatchDiagnostics is one running match's row in the diagnostics snapshot.
type MatchDiagnostics struct {
	ID        string `json:"id"`
	LobbyID   string `json:"lobbyId"`
	Phase     string `json:"phase"`
	Tick      uint64 `json:"tick"`
	Members   int    `json:"members"`
	PotCts    int64  `json:"potCents"`
	RiskCount int    `json:"riskCount"`
}

// DiagnosticsSnapshot is a point-in-time operational view of the
// controller, served on the debug surface.
type DiagnosticsSnapshot struct {
	Lobbies []LobbyDiagnostics `json:"lobbies"`
	Matches []MatchDiagnostics `json:"matches"`
}

// Diagnostics assembles a snapshot of every lobby and running match. Reads
// only; safe to call from any goroutine.
func (c *Controller) Diagnostics() DiagnosticsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := DiagnosticsSnapshot{
		Lobbies: make([]LobbyDiagnostics, 0, len(c.lobbies)),
		Matches: make([]MatchDiagnostics, 0, len(c.running)),
	}
	for _, l := range c.lobbies {
		snap.Lobbies = append(snap.Lobbies, LobbyDiagnostics{
			ID:        l.ID,
			Mode:      l.Mode,
			State:     l.State,
			Members:   len(l.Members),
			Capacity:  l.Capacity,
			BuyInCts:  l.BuyInCts,
			CreatedAt: l.CreatedAt,
		})
	}
	for _, rm := range c.running {
		snap.Matches = append(snap.Matches, MatchDiagnostics{
			ID:        rm.record.ID,
			LobbyID:   rm.record.LobbyID,
			Phase:     string(rm.sim.Phase()),
			Tick:      rm.sim.Tick(),
			Members:   len(rm.record.Members),
			PotCts:    rm.record.PotCts,
			RiskCount: rm.sim.Risk(),
		})
	}
	return snap
}
