// Package ingress declares the structured events a per-player duplex
// session publishes.
package ingress

import (
	"context"

	"github.com/Skriptersz/agariogambling/logging"
)

const (
	EventSessionAuthenticated logging.EventType = "ingress.authenticated"
	EventSessionRejected      logging.EventType = "ingress.rejected"
	EventInputDropped         logging.EventType = "ingress.input_dropped"
	EventSessionDisconnected  logging.EventType = "ingress.disconnected"
)

type SessionAuthenticatedPayload struct {
	AccountID string `json:"accountId"`
	MatchID   string `json:"matchId"`
	CellID    string `json:"cellId"`
}

type SessionRejectedPayload struct {
	Reason string `json:"reason"`
}

type InputDroppedPayload struct {
	Reason string `json:"reason"`
	Seq    uint64 `json:"seq,omitempty"`
}

type SessionDisconnectedPayload struct {
	AccountID string `json:"accountId"`
}

func session(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindSession}
}

func SessionAuthenticated(ctx context.Context, pub logging.Publisher, sessionID string, payload SessionAuthenticatedPayload) {
	publish(ctx, pub, EventSessionAuthenticated, sessionID, logging.SeverityInfo, payload)
}

func SessionRejected(ctx context.Context, pub logging.Publisher, sessionID string, payload SessionRejectedPayload) {
	publish(ctx, pub, EventSessionRejected, sessionID, logging.SeverityWarn, payload)
}

func InputDropped(ctx context.Context, pub logging.Publisher, sessionID string, payload InputDroppedPayload) {
	publish(ctx, pub, EventInputDropped, sessionID, logging.SeverityDebug, payload)
}

func SessionDisconnected(ctx context.Context, pub logging.Publisher, sessionID string, payload SessionDisconnectedPayload) {
	publish(ctx, pub, EventSessionDisconnected, sessionID, logging.SeverityInfo, payload)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, sessionID string, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Actor:    session(sessionID),
		Severity: sev,
		Category: logging.CategoryIngress,
		Payload:  payload,
	})
}
