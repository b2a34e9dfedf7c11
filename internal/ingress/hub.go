package ingress

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/match"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
)

// HubConfig wires a Hub's collaborators.
type HubConfig struct {
	Gateway   MatchGateway
	Auth      Authenticator
	Logger    telemetry.Logger
	Publisher telemetry.Publisher
}

// Hub owns every live session and fans match output out to the members of
// each match. It is the lifecycle controller's Broadcaster.
type Hub struct {
	gateway   MatchGateway
	auth      Authenticator
	logger    telemetry.Logger
	publisher telemetry.Publisher

	mu       sync.Mutex
	sessions map[string]map[*Session]struct{} // keyed by match id
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	return &Hub{
		gateway:   cfg.Gateway,
		auth:      cfg.Auth,
		logger:    logger,
		publisher: cfg.Publisher,
		sessions:  make(map[string]map[*Session]struct{}),
	}
}

// NewSession creates an unauthenticated session attached to a match. The
// session joins the fan-out only after its AUTH bind succeeds.
func (h *Hub) NewSession(matchID string) *Session {
	return &Session{
		id:      "session-" + uuid.NewString(),
		hub:     h,
		matchID: matchID,
		send:    make(chan ServerMessage, sendQueueDepth),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.matchID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.matchID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[s.matchID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.matchID)
		}
	}
}

// fanOut delivers one frame to every member session without ever blocking
// on a slow consumer; a full send queue loses the frame for that session.
func (h *Hub) fanOut(matchID string, msg ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions[matchID] {
		select {
		case s.send <- msg:
		default:
		}
	}
}

// Snapshot implements lifecycle.Broadcaster.
func (h *Hub) Snapshot(matchID string, snap match.Snapshot) {
	h.fanOut(matchID, ServerMessage{Type: MsgSnapshot, Snapshot: &snap})
}

// Events implements lifecycle.Broadcaster.
func (h *Hub) Events(matchID string, events []match.Event) {
	for _, e := range events {
		h.fanOut(matchID, ServerMessage{Type: MsgEvent, Event: &EventPayload{Kind: e.Kind, Tick: e.Tick, Data: e.Data}})
	}
}

// Result implements lifecycle.Broadcaster. This is the first and only frame
// that carries the revealed seed and nonce.
func (h *Hub) Result(matchID string, res lifecycle.Result) {
	h.fanOut(matchID, ServerMessage{Type: MsgResult, Result: &res})
}

var _ lifecycle.Broadcaster = (*Hub)(nil)
