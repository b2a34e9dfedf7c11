package ingress

import (
	"encoding/json"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Skriptersz/agariogambling/internal/physics"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
)

// HandlerConfig wires the websocket handler.
type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades HTTP requests to websocket sessions bound to a match.
// The match id comes from the `match` query parameter; identity comes only
// from the in-band AUTH frame, never from the URL.
type Handler struct {
	hub      *Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = hub.logger
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}
	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	matchID := r.URL.Query().Get("match")
	if matchID == "" {
		nethttp.Error(w, "missing match", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ingress: upgrade failed for match %s: %v", matchID, err)
		return
	}

	session := h.hub.NewSession(matchID)
	ctx := r.Context()
	defer func() {
		session.Close(ctx)
		conn.Close()
	}()

	// The fan-out goroutine and the read loop both answer on the same
	// connection; gorilla allows only one writer at a time.
	var writeMu sync.Mutex
	writeFrame := func(msg ServerMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Printf("ingress: marshal outbound frame: %v", err)
			return nil
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// Writer: drains the session's send queue and flushes coalesced input
	// on the tick cadence.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(physics.TickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case msg := <-session.Send():
				if err := writeFrame(msg); err != nil {
					return
				}
			case now := <-ticker.C:
				session.FlushPending(ctx, now)
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("ingress: discarding malformed frame on match %s: %v", matchID, err)
			continue
		}
		reply, closeAfter := session.Handle(ctx, msg, time.Now())
		if reply != nil {
			writeFrame(*reply)
		}
		if closeAfter {
			code := "policy_violation"
			if reply != nil && reply.Reject != nil {
				code = reply.Reject.Code
			}
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code)
			writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage, message)
			writeMu.Unlock()
			return
		}
	}
}
