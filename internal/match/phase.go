package match

import "time"

// Phase is the simulation's substate of the lifecycle controller's "active"
// super-state.
type Phase string

const (
	PhaseCountdown  Phase = "countdown"
	PhaseActive     Phase = "active"
	PhaseShrink     Phase = "shrink"
	PhaseSettlement Phase = "settlement"
)

// Canonical phase durations.
const (
	CountdownDuration = 10 * time.Second
	ActiveDuration    = 4*time.Minute + 30*time.Second
	ShrinkDuration    = 90 * time.Second
	HardCapDuration   = 6 * time.Minute // measured from active entry
)

// FogShrinkFraction is the fraction of map_radius the fog contracts by over
// the full shrink window.
const FogShrinkFraction = 0.65

// PelletTarget is the steady-state pellet count the match tries to maintain.
const PelletTarget = 500

// PelletRespawnProbability is the per-tick Bernoulli probability of adding a
// pellet while in PhaseActive and below PelletTarget; it is halved while in
// PhaseShrink.
const PelletRespawnProbability = 0.1

// SpawnDiskFraction is the fraction of map_radius cells spawn within.
const SpawnDiskFraction = 0.7

// InitialCellMass is the mass every cell spawns with.
const InitialCellMass = 10.0
