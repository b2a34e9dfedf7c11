package ingress

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/Skriptersz/agariogambling/internal/match"
	"github.com/Skriptersz/agariogambling/internal/physics"
	logingress "github.com/Skriptersz/agariogambling/logging/ingress"
)

// Authenticator resolves a bearer token to an account id. Token issuance
// and verification crypto live with the auth collaborator; the session only
// consumes the resolved identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (accountID string, err error)
}

// ErrBadToken is returned by authenticators for unknown or expired tokens.
var ErrBadToken = errors.New("ingress: invalid token")

// StaticTokens is a fixed token table, used by tests and local development.
type StaticTokens map[string]string

func (t StaticTokens) Authenticate(ctx context.Context, token string) (string, error) {
	accountID, ok := t[token]
	if !ok {
		return "", ErrBadToken
	}
	return accountID, nil
}

// MatchGateway is the slice of the lifecycle controller a session needs:
// input routing into the owning match and membership resolution for binding.
type MatchGateway interface {
	Input(matchID string, cmd match.InputCommand) (accepted bool, reason string)
	MemberCell(ctx context.Context, matchID, accountID string) (string, error)
}

// sendQueueDepth bounds the per-session outbound queue; a consumer that
// falls further behind than this starts losing frames rather than stalling
// the broadcast fan-out.
const sendQueueDepth = 64

// Session is one player's duplex attachment to a match. Inbound handling is
// serialized by the transport read loop; outbound frames flow through the
// bounded send queue, written by the hub's fan-out.
type Session struct {
	id      string
	hub     *Hub
	matchID string

	accountID     string
	cellID        string
	authenticated bool

	warned  bool
	lastSeq uint64

	// mu guards the coalescing state, shared between the transport's read
	// loop and its tick-rate flush timer.
	mu          sync.Mutex
	lastForward time.Time
	pending     *match.InputCommand

	send chan ServerMessage
}

// Send returns the outbound frame stream for the transport write loop.
func (s *Session) Send() <-chan ServerMessage { return s.send }

// Authenticated reports whether the session has completed its AUTH bind.
func (s *Session) Authenticated() bool { return s.authenticated }

// CellID returns the bound cell, empty before authentication.
func (s *Session) CellID() string { return s.cellID }

// Handle processes one inbound frame. The returned reply, when non-nil, is
// written back to the client; closeAfter signals the transport to tear the
// connection down after writing it.
func (s *Session) Handle(ctx context.Context, msg ClientMessage, now time.Time) (reply *ServerMessage, closeAfter bool) {
	switch msg.Type {
	case MsgAuth:
		return s.handleAuth(ctx, msg)
	case MsgInput:
		return s.handleInput(ctx, msg, now)
	default:
		// Anything that is not AUTH is dropped until the bind completes.
		if !s.authenticated {
			return nil, false
		}
		if s.warned {
			return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: RejectMalformed}}, true
		}
		s.warned = true
		return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: RejectMalformed}}, false
	}
}

func (s *Session) handleAuth(ctx context.Context, msg ClientMessage) (*ServerMessage, bool) {
	accountID, err := s.hub.auth.Authenticate(ctx, msg.Token)
	if err != nil {
		logingress.SessionRejected(ctx, s.hub.publisher, s.id, logingress.SessionRejectedPayload{Reason: "bad_token"})
		return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: RejectBadToken}}, true
	}
	cellID, err := s.hub.gateway.MemberCell(ctx, s.matchID, accountID)
	if err != nil {
		logingress.SessionRejected(ctx, s.hub.publisher, s.id, logingress.SessionRejectedPayload{Reason: "not_a_member"})
		return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: RejectNotAMember}}, true
	}
	s.accountID = accountID
	s.cellID = cellID
	s.authenticated = true
	s.hub.register(s)
	logingress.SessionAuthenticated(ctx, s.hub.publisher, s.id, logingress.SessionAuthenticatedPayload{
		AccountID: accountID, MatchID: s.matchID, CellID: cellID,
	})
	return nil, false
}

func (s *Session) handleInput(ctx context.Context, msg ClientMessage, now time.Time) (*ServerMessage, bool) {
	if !s.authenticated {
		logingress.InputDropped(ctx, s.hub.publisher, s.id, logingress.InputDroppedPayload{Reason: "not_authenticated", Seq: msg.Seq})
		return nil, false
	}
	if math.Hypot(msg.Axes.X, msg.Axes.Y) > 1.0001 {
		logingress.InputDropped(ctx, s.hub.publisher, s.id, logingress.InputDroppedPayload{Reason: "invalid_axes", Seq: msg.Seq})
		if s.warned {
			return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: match.RejectInvalidAxes, Seq: msg.Seq}}, true
		}
		s.warned = true
		return &ServerMessage{Type: MsgReject, Reject: &RejectPayload{Code: match.RejectInvalidAxes, Seq: msg.Seq}}, false
	}
	if msg.Seq != 0 && msg.Seq <= s.lastSeq {
		logingress.InputDropped(ctx, s.hub.publisher, s.id, logingress.InputDroppedPayload{Reason: "stale_seq", Seq: msg.Seq})
		return nil, false
	}
	if msg.Seq != 0 {
		s.lastSeq = msg.Seq
	}

	cmd := match.InputCommand{
		CellID:          s.cellID,
		Axes:            physics.Vector2{X: msg.Axes.X, Y: msg.Axes.Y},
		Boost:           msg.Boost,
		ClientSeq:       msg.Seq,
		ClientTimestamp: time.UnixMilli(msg.Ts),
		EnqueuedAt:      now,
	}

	// Inputs faster than the tick rate coalesce: only the latest survives
	// until the next tick boundary opens a forwarding slot.
	s.mu.Lock()
	if now.Sub(s.lastForward) < physics.TickInterval() {
		s.pending = &cmd
		s.mu.Unlock()
		return nil, false
	}
	s.lastForward = now
	s.mu.Unlock()
	s.forward(ctx, cmd)
	return nil, false
}

// FlushPending forwards the most recent coalesced input once a tick
// interval has elapsed; the transport calls it from its tick-rate timer.
func (s *Session) FlushPending(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.pending == nil || now.Sub(s.lastForward) < physics.TickInterval() {
		s.mu.Unlock()
		return
	}
	cmd := *s.pending
	s.pending = nil
	s.lastForward = now
	s.mu.Unlock()
	s.forward(ctx, cmd)
}

func (s *Session) forward(ctx context.Context, cmd match.InputCommand) {
	if accepted, reason := s.hub.gateway.Input(s.matchID, cmd); !accepted {
		logingress.InputDropped(ctx, s.hub.publisher, s.id, logingress.InputDroppedPayload{Reason: reason, Seq: cmd.ClientSeq})
	}
}

// Close detaches the session from the hub's fan-out.
func (s *Session) Close(ctx context.Context) {
	s.hub.unregister(s)
	logingress.SessionDisconnected(ctx, s.hub.publisher, s.id, logingress.SessionDisconnectedPayload{AccountID: s.accountID})
}
