// Package match declares the structured events the simulation publishes
// over the course of a match.
package match

import (
	"context"

	"github.com/Skriptersz/agariogambling/logging"
)

const (
	// EventPhaseChanged fires on every phase transition.
	EventPhaseChanged logging.EventType = "match.phase_changed"
	// EventKill fires when one cell eats another.
	EventKill logging.EventType = "match.kill"
	// EventShrink fires once when the fog begins contracting.
	EventShrink logging.EventType = "match.shrink"
	// EventEnd fires once when the hard cap or shrink window elapses.
	EventEnd logging.EventType = "match.end"
	// EventTickPanic fires when a per-tick physics/collision panic was recovered.
	EventTickPanic logging.EventType = "match.tick_panic"
)

type PhaseChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type KillPayload struct {
	KillerID    string  `json:"killerId"`
	VictimID    string  `json:"victimId"`
	KillerMass  float64 `json:"killerMass"`
	VictimMass  float64 `json:"victimMass"`
}

type ShrinkPayload struct {
	FogRadius float64 `json:"fogRadius"`
}

type EndPayload struct {
	Reason string `json:"reason"`
}

type TickPanicPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func entity(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindMatch}
}

func PhaseChanged(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload PhaseChangedPayload) {
	publish(ctx, pub, EventPhaseChanged, matchID, tick, logging.SeverityInfo, payload, nil)
}

func Kill(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload KillPayload) {
	publish(ctx, pub, EventKill, matchID, tick, logging.SeverityInfo, payload, nil)
}

func Shrink(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload ShrinkPayload) {
	publish(ctx, pub, EventShrink, matchID, tick, logging.SeverityInfo, payload, nil)
}

func End(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload EndPayload) {
	publish(ctx, pub, EventEnd, matchID, tick, logging.SeverityInfo, payload, nil)
}

func TickPanic(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload TickPanicPayload) {
	publish(ctx, pub, EventTickPanic, matchID, tick, logging.SeverityError, payload, nil)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, matchID string, tick uint64, sev logging.Severity, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Tick:     tick,
		Actor:    entity(matchID),
		Severity: sev,
		Category: logging.CategoryMatch,
		Payload:  payload,
		Extra:    extra,
	})
}
