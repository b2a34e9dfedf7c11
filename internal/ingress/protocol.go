// Package ingress is the per-player duplex session layer. It binds an
// authenticated identity to a match cell, validates and coalesces
// inputs on their way to the owning simulation, and fans snapshots, events,
// and the final result envelope back out to member sessions.
package ingress

import (
	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/match"
)

// Client-to-server message types.
const (
	MsgAuth  = "AUTH"
	MsgInput = "INPUT"
)

// Server-to-client message types.
const (
	MsgSnapshot = "SNAPSHOT"
	MsgEvent    = "EVENT"
	MsgResult   = "RESULT"
	MsgReject   = "REJECT"
)

// Axes is a client's desired movement direction; length must be <= 1.
type Axes struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientMessage is the single inbound frame shape. Type discriminates; the
// remaining fields are populated per type.
type ClientMessage struct {
	Type string `json:"type"`

	// AUTH
	Token string `json:"token,omitempty"`

	// INPUT
	Seq   uint64 `json:"seq,omitempty"`
	Axes  Axes   `json:"axes,omitempty"`
	Boost bool   `json:"boost,omitempty"`
	Ts    int64  `json:"ts,omitempty"` // client clock, milliseconds; recorded, never trusted
}

// ServerMessage is the single outbound frame shape.
type ServerMessage struct {
	Type string `json:"type"`

	Snapshot *match.Snapshot   `json:"snapshot,omitempty"`
	Event    *EventPayload     `json:"event,omitempty"`
	Result   *lifecycle.Result `json:"result,omitempty"`
	Reject   *RejectPayload    `json:"reject,omitempty"`
}

// EventPayload is one discrete match occurrence relayed to the client.
type EventPayload struct {
	Kind match.EventKind `json:"kind"`
	Tick uint64          `json:"tick"`
	Data map[string]any  `json:"data,omitempty"`
}

// RejectPayload is a structured precondition or validation rejection with a
// stable code the client can act on.
type RejectPayload struct {
	Code string `json:"code"`
	Seq  uint64 `json:"seq,omitempty"`
}

// Stable rejection codes. Pre-auth inputs are dropped silently rather than
// rejected, so there is no code for them.
const (
	RejectBadToken   = "bad_token"
	RejectNotAMember = "not_a_member"
	RejectMalformed  = "malformed"
)
