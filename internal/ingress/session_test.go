package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/match"
	"github.com/Skriptersz/agariogambling/internal/physics"
)

type fakeGateway struct {
	mu      sync.Mutex
	cmds    []match.InputCommand
	members map[string]string // account id -> cell id
}

func (g *fakeGateway) Input(matchID string, cmd match.InputCommand) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cmds = append(g.cmds, cmd)
	return true, ""
}

func (g *fakeGateway) MemberCell(ctx context.Context, matchID, accountID string) (string, error) {
	cellID, ok := g.members[accountID]
	if !ok {
		return "", lifecycle.ErrNotMember
	}
	return cellID, nil
}

func (g *fakeGateway) commands() []match.InputCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]match.InputCommand(nil), g.cmds...)
}

func newTestSession(gw *fakeGateway) (*Hub, *Session) {
	hub := NewHub(HubConfig{
		Gateway: gw,
		Auth:    StaticTokens{"tok-p1": "p1"},
	})
	return hub, hub.NewSession("m1")
}

func authenticate(t *testing.T, s *Session) {
	t.Helper()
	reply, closeAfter := s.Handle(context.Background(), ClientMessage{Type: MsgAuth, Token: "tok-p1"}, time.Now())
	if reply != nil || closeAfter {
		t.Fatalf("expected silent auth success, got reply=%v close=%v", reply, closeAfter)
	}
	if !s.Authenticated() || s.CellID() != "c1" {
		t.Fatalf("expected session bound to c1, got %q", s.CellID())
	}
}

func TestSessionDropsInputBeforeAuth(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)

	reply, closeAfter := s.Handle(context.Background(), ClientMessage{Type: MsgInput, Axes: Axes{X: 1}}, time.Now())
	if reply != nil || closeAfter {
		t.Fatalf("expected pre-auth input silently dropped, got reply=%v close=%v", reply, closeAfter)
	}
	if len(gw.commands()) != 0 {
		t.Fatalf("expected no forwarded commands, got %d", len(gw.commands()))
	}
}

func TestSessionRejectsBadToken(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)

	reply, closeAfter := s.Handle(context.Background(), ClientMessage{Type: MsgAuth, Token: "nope"}, time.Now())
	if reply == nil || reply.Reject == nil || reply.Reject.Code != RejectBadToken || !closeAfter {
		t.Fatalf("expected bad_token reject with close, got %+v close=%v", reply, closeAfter)
	}
}

func TestSessionRejectsNonMember(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{}}
	_, s := newTestSession(gw)

	reply, closeAfter := s.Handle(context.Background(), ClientMessage{Type: MsgAuth, Token: "tok-p1"}, time.Now())
	if reply == nil || reply.Reject == nil || reply.Reject.Code != RejectNotAMember || !closeAfter {
		t.Fatalf("expected not_a_member reject with close, got %+v close=%v", reply, closeAfter)
	}
}

func TestSessionInvalidAxesWarnsThenCloses(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)
	authenticate(t, s)
	ctx := context.Background()

	reply, closeAfter := s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 1, Axes: Axes{X: 2, Y: 2}}, time.Now())
	if reply == nil || reply.Reject == nil || closeAfter {
		t.Fatalf("expected a warning reject without close, got %+v close=%v", reply, closeAfter)
	}
	reply, closeAfter = s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 2, Axes: Axes{X: 2, Y: 2}}, time.Now())
	if reply == nil || !closeAfter {
		t.Fatalf("expected the second validation failure to close, got %+v close=%v", reply, closeAfter)
	}
}

func TestSessionForwardsValidInput(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)
	authenticate(t, s)

	s.Handle(context.Background(), ClientMessage{Type: MsgInput, Seq: 1, Axes: Axes{X: 0.6, Y: 0.8}, Boost: true}, time.Now())
	cmds := gw.commands()
	if len(cmds) != 1 {
		t.Fatalf("expected one forwarded command, got %d", len(cmds))
	}
	if cmds[0].CellID != "c1" || !cmds[0].Boost || cmds[0].Axes != (physics.Vector2{X: 0.6, Y: 0.8}) {
		t.Fatalf("unexpected forwarded command: %+v", cmds[0])
	}
}

func TestSessionDropsStaleSequenceNumbers(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)
	authenticate(t, s)
	ctx := context.Background()

	base := time.Now()
	s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 5, Axes: Axes{X: 1}}, base)
	s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 4, Axes: Axes{Y: 1}}, base.Add(physics.TickInterval()))
	if len(gw.commands()) != 1 {
		t.Fatalf("expected the stale sequence to be dropped, got %d commands", len(gw.commands()))
	}
}

func TestSessionCoalescesInputsToTickRate(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	_, s := newTestSession(gw)
	authenticate(t, s)
	ctx := context.Background()

	base := time.Now()
	s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 1, Axes: Axes{X: 0.1}}, base)
	// A burst inside one tick interval: only the latest may survive.
	s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 2, Axes: Axes{X: 0.2}}, base.Add(time.Millisecond))
	s.Handle(ctx, ClientMessage{Type: MsgInput, Seq: 3, Axes: Axes{X: 0.3}}, base.Add(2*time.Millisecond))

	if got := len(gw.commands()); got != 1 {
		t.Fatalf("expected the burst to coalesce down to 1 forwarded command, got %d", got)
	}
	s.FlushPending(ctx, base.Add(physics.TickInterval()))
	cmds := gw.commands()
	if len(cmds) != 2 {
		t.Fatalf("expected the flush to forward the coalesced command, got %d", len(cmds))
	}
	if cmds[1].ClientSeq != 3 {
		t.Fatalf("expected the latest burst input to win, got seq %d", cmds[1].ClientSeq)
	}
}

func TestHubFansOutOnlyToMatchMembers(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	hub := NewHub(HubConfig{Gateway: gw, Auth: StaticTokens{"tok-p1": "p1"}})

	s1 := hub.NewSession("m1")
	authenticate(t, s1)
	s2 := hub.NewSession("m2")

	hub.Snapshot("m1", match.Snapshot{Tick: 7})
	select {
	case msg := <-s1.Send():
		if msg.Type != MsgSnapshot || msg.Snapshot.Tick != 7 {
			t.Fatalf("unexpected frame: %+v", msg)
		}
	default:
		t.Fatalf("expected a snapshot frame for the m1 session")
	}
	select {
	case msg := <-s2.Send():
		t.Fatalf("unexpected frame for unauthenticated m2 session: %+v", msg)
	default:
	}
}

func TestHubResultCarriesReveal(t *testing.T) {
	gw := &fakeGateway{members: map[string]string{"p1": "c1"}}
	hub := NewHub(HubConfig{Gateway: gw, Auth: StaticTokens{"tok-p1": "p1"}})
	s := hub.NewSession("m1")
	authenticate(t, s)

	hub.Result("m1", lifecycle.Result{MatchID: "m1", SeedHex: "aa", NonceHex: "bb", Commit: "cc"})
	select {
	case msg := <-s.Send():
		if msg.Type != MsgResult || msg.Result.SeedHex != "aa" || msg.Result.NonceHex != "bb" {
			t.Fatalf("unexpected result frame: %+v", msg)
		}
	default:
		t.Fatalf("expected a result frame")
	}
}
