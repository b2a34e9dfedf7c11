package physics

import (
	"math"
	"time"
)

// Vector2 is a plain 2D vector, used for position, velocity, and input axes.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Length returns the Euclidean length of the vector.
func (v Vector2) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// Normalized returns v scaled to unit length, or the zero vector if v is
// already zero.
func (v Vector2) Normalized() Vector2 {
	length := v.Length()
	if length == 0 {
		return Vector2{}
	}
	return Vector2{X: v.X / length, Y: v.Y / length}
}

// Cell is a player avatar's runtime physics state. Owned exclusively by the
// match that spawned it; physics functions mutate it in place but never
// read or write anything outside the struct.
type Cell struct {
	ID        string
	TeamNo    int
	Position  Vector2
	Velocity  Vector2
	Axes      Vector2 // latest input direction, length <= 1
	Mass      float64
	Boost     bool // one-shot press pending for this tick
	LastBoost time.Time
	IsDead    bool
	Kills     int

	// GrowthCap is the hard mass ceiling for this cell, fixed at spawn from
	// the match's buy-in. MaxMass records the highest mass the cell has held.
	GrowthCap float64
	MaxMass   float64
}

// Radius reports the cell's current radius given its mass.
func (c *Cell) Radius() float64 {
	return MassToRadius(c.Mass)
}

// Pellet is a static food item a cell can consume.
type Pellet struct {
	ID       string
	Position Vector2
	Mass     float64
	Consumed bool
}

// Radius reports the pellet's current radius given its mass.
func (p *Pellet) Radius() float64 {
	return MassToRadius(p.Mass)
}

// Advance integrates one tick of motion for a live cell: an optional boost
// impulse, acceleration from the latest input axes, friction, and a speed
// clamp derived from the cell's current mass. dt is the tick's elapsed
// seconds and now is the tick's wall/sim time, used only to evaluate the
// boost cooldown; Advance never reads a clock itself.
func Advance(c *Cell, dt float64, now time.Time) {
	if c == nil || c.IsDead {
		return
	}

	if c.Boost {
		if c.LastBoost.IsZero() || now.Sub(c.LastBoost) >= BoostCooldown {
			c.Velocity.X *= BoostMultiplier
			c.Velocity.Y *= BoostMultiplier
			c.LastBoost = now
		}
		c.Boost = false
	}

	axes := c.Axes
	if axes.Length() > 1 {
		axes = axes.Normalized()
	}
	c.Velocity.X += axes.X * AccelPerSecond * dt
	c.Velocity.Y += axes.Y * AccelPerSecond * dt

	c.Velocity.X *= FrictionFactor
	c.Velocity.Y *= FrictionFactor

	maxSpeed := MaxSpeed(c.Mass)
	if speed := c.Velocity.Length(); speed > maxSpeed && speed > 0 {
		scale := maxSpeed / speed
		c.Velocity.X *= scale
		c.Velocity.Y *= scale
	}

	c.Position.X += c.Velocity.X * dt
	c.Position.Y += c.Velocity.Y * dt

	if c.Mass > c.MaxMass {
		c.MaxMass = c.Mass
	}
}

// ClampToMap enforces the circular map's hard boundary: a cell that crosses
// it is projected back onto the boundary and its velocity is damped per
// BoundaryVelocityDamping.
func ClampToMap(c *Cell, mapRadius float64) {
	if c == nil || c.IsDead {
		return
	}
	dist := math.Hypot(c.Position.X, c.Position.Y)
	if dist <= mapRadius || dist == 0 {
		return
	}
	scale := mapRadius / dist
	c.Position.X *= scale
	c.Position.Y *= scale
	c.Velocity.X *= BoundaryVelocityDamping
	c.Velocity.Y *= BoundaryVelocityDamping
}

// ApplyFog drains mass from a cell outside the fog radius at FogDamagePerSecond.
// A cell drained to zero mass is marked dead.
func ApplyFog(c *Cell, fogRadius float64, dt float64) {
	if c == nil || c.IsDead {
		return
	}
	dist := math.Hypot(c.Position.X, c.Position.Y)
	if dist <= fogRadius {
		return
	}
	c.Mass -= FogDamagePerSecond * dt
	if c.Mass <= 0 {
		c.Mass = 0
		c.IsDead = true
	}
}

// TryEat attempts to have eater consume target. Eating requires the eater's
// radius to strictly exceed EatRadiusRatio times the target's radius (a
// ratio exactly at 1.15 does NOT eat) and forbids same-nonzero-team kills.
// On success the eater's mass grows by the target's mass, capped at
// growthCap, and the target is zeroed and marked dead. Returns whether an
// eat occurred.
func TryEat(eater, target *Cell, growthCap float64) bool {
	if eater == nil || target == nil || eater.IsDead || target.IsDead {
		return false
	}
	if eater.ID == target.ID {
		return false
	}
	if eater.TeamNo != 0 && eater.TeamNo == target.TeamNo {
		return false
	}
	if !(eater.Radius() > EatRadiusRatio*target.Radius()) {
		return false
	}
	eater.Mass = math.Min(eater.Mass+target.Mass, growthCap)
	if eater.Mass > eater.MaxMass {
		eater.MaxMass = eater.Mass
	}
	target.Mass = 0
	target.IsDead = true
	eater.Kills++
	return true
}

// TryConsume has cell consume pellet if they overlap and the pellet has not
// already been consumed this tick. Returns whether the pellet was consumed.
func TryConsume(c *Cell, p *Pellet, growthCap float64) bool {
	if c == nil || p == nil || c.IsDead || p.Consumed {
		return false
	}
	dist := math.Hypot(c.Position.X-p.Position.X, c.Position.Y-p.Position.Y)
	if dist > c.Radius()+p.Radius() {
		return false
	}
	c.Mass = math.Min(c.Mass+p.Mass, growthCap)
	if c.Mass > c.MaxMass {
		c.MaxMass = c.Mass
	}
	p.Consumed = true
	return true
}
