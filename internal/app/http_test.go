package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Skriptersz/agariogambling/internal/ingress"
	"github.com/Skriptersz/agariogambling/internal/ledger"
	"github.com/Skriptersz/agariogambling/internal/lifecycle"
)

func newTestHandler(t *testing.T) (http.Handler, *ledger.MemStore, ingress.SignedTokens) {
	t.Helper()
	store := ledger.NewMemStore(nil)
	controller := lifecycle.NewController(lifecycle.Config{
		Store:     store,
		Repo:      lifecycle.NewMemRepository(),
		MapRadius: 100,
	})
	t.Cleanup(controller.Shutdown)

	tokens := ingress.NewSignedTokens("test-secret")
	hub := ingress.NewHub(ingress.HubConfig{Gateway: controller, Auth: tokens})
	controller.SetBroadcaster(hub)

	handler := NewHTTPHandler(HTTPHandlerConfig{
		Controller: controller,
		Store:      store,
		Registrar:  store,
		Tokens:     tokens,
		WS:         ingress.NewHandler(hub, ingress.HandlerConfig{}),
	})
	return handler, store, tokens
}

func postJSON(t *testing.T, handler http.Handler, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestRegisterIssuesUsableToken(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	resp := postJSON(t, handler, "/account/register", "", map[string]any{"id": "p1", "nickname": "Blob"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reg struct {
		AccountID string `json:"accountId"`
		Token     string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register payload: %v", err)
	}
	if reg.AccountID != "p1" || reg.Token == "" {
		t.Fatalf("unexpected register payload: %+v", reg)
	}

	wallet := getJSON(t, handler, "/wallet", reg.Token)
	if wallet.Code != http.StatusOK {
		t.Fatalf("expected the issued token to authenticate, got %d", wallet.Code)
	}
}

func TestWalletRequiresToken(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	if resp := getJSON(t, handler, "/wallet", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.Code)
	}
	if resp := getJSON(t, handler, "/wallet", "p1.forged"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", resp.Code)
	}
}

func TestDepositShowsUpInWalletAndHistory(t *testing.T) {
	handler, _, tokens := newTestHandler(t)
	token := tokens.Issue("p1")

	resp := postJSON(t, handler, "/wallet/deposit", token, map[string]any{"amountCents": 2500, "ref": "psp-1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	wallet := getJSON(t, handler, "/wallet", token)
	var w struct {
		AvailableCts int64 `json:"availableCents"`
		EscrowCts    int64 `json:"escrowCents"`
	}
	if err := json.Unmarshal(wallet.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet payload: %v", err)
	}
	if w.AvailableCts != 2500 || w.EscrowCts != 0 {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	history := getJSON(t, handler, "/wallet/history", token)
	var h struct {
		Entries []ledger.LedgerEntry `json:"entries"`
	}
	if err := json.Unmarshal(history.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode history payload: %v", err)
	}
	if len(h.Entries) != 1 || h.Entries[0].Type != ledger.EntryDeposit {
		t.Fatalf("unexpected history: %+v", h.Entries)
	}
}

func TestWithdrawWithoutKYCIsForbidden(t *testing.T) {
	handler, store, tokens := newTestHandler(t)
	store.Credit("p1", 5000)

	resp := postJSON(t, handler, "/wallet/withdraw", tokens.Issue("p1"), map[string]any{"amountCents": 1000, "method": "sepa"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before KYC approval, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestLobbyJoinLocksEscrowOverHTTP(t *testing.T) {
	handler, store, tokens := newTestHandler(t)
	store.Credit("p1", 5000)
	token := tokens.Issue("p1")

	created := postJSON(t, handler, "/lobby/create", "", map[string]any{
		"mode":        "solo",
		"buyInCents":  1000,
		"capacity":    4,
		"payoutModel": "winner_take_all",
		"rakeBps":     800,
	})
	if created.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", created.Code, created.Body.String())
	}
	var lobby lifecycle.Lobby
	if err := json.Unmarshal(created.Body.Bytes(), &lobby); err != nil {
		t.Fatalf("decode lobby payload: %v", err)
	}

	joined := postJSON(t, handler, "/lobby/join", token, map[string]any{"lobbyId": lobby.ID})
	if joined.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", joined.Code, joined.Body.String())
	}

	wallet := getJSON(t, handler, "/wallet", token)
	var w struct {
		AvailableCts int64 `json:"availableCents"`
		EscrowCts    int64 `json:"escrowCents"`
	}
	if err := json.Unmarshal(wallet.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet payload: %v", err)
	}
	if w.AvailableCts != 4000 || w.EscrowCts != 1000 {
		t.Fatalf("expected the buy-in moved to escrow, got %+v", w)
	}

	// Joining twice is a conflict, and so is an empty wallet.
	if resp := postJSON(t, handler, "/lobby/join", token, map[string]any{"lobbyId": lobby.ID}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate join, got %d", resp.Code)
	}
	if resp := postJSON(t, handler, "/lobby/join", tokens.Issue("p2"), map[string]any{"lobbyId": lobby.ID}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an unfunded join, got %d", resp.Code)
	}
}

func TestLobbyLeaveReturnsEscrow(t *testing.T) {
	handler, store, tokens := newTestHandler(t)
	store.Credit("p1", 1000)
	token := tokens.Issue("p1")

	created := postJSON(t, handler, "/lobby/create", "", map[string]any{
		"mode":        "solo",
		"buyInCents":  1000,
		"capacity":    4,
		"payoutModel": "winner_take_all",
	})
	var lobby lifecycle.Lobby
	if err := json.Unmarshal(created.Body.Bytes(), &lobby); err != nil {
		t.Fatalf("decode lobby payload: %v", err)
	}

	postJSON(t, handler, "/lobby/join", token, map[string]any{"lobbyId": lobby.ID})
	if resp := postJSON(t, handler, "/lobby/leave", token, map[string]any{"lobbyId": lobby.ID}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	wallet := getJSON(t, handler, "/wallet", token)
	var w struct {
		AvailableCts int64 `json:"availableCents"`
		EscrowCts    int64 `json:"escrowCents"`
	}
	if err := json.Unmarshal(wallet.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode wallet payload: %v", err)
	}
	if w.AvailableCts != 1000 || w.EscrowCts != 0 {
		t.Fatalf("expected escrow returned after leave, got %+v", w)
	}
}

func TestVerifyUnknownMatchIs404(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	if resp := getJSON(t, handler, "/verify?match=nope", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDiagnosticsReportsArenaState(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	resp := getJSON(t, handler, "/diagnostics", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload struct {
		Status   string `json:"status"`
		TickRate int    `json:"tickRate"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode diagnostics payload: %v", err)
	}
	if payload.Status != "ok" || payload.TickRate != 30 {
		t.Fatalf("unexpected diagnostics: %+v", payload)
	}
}
