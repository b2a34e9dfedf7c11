package app

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skriptersz/agariogambling/internal/ingress"
	"github.com/Skriptersz/agariogambling/internal/ledger"
	"github.com/Skriptersz/agariogambling/internal/lifecycle"
	"github.com/Skriptersz/agariogambling/internal/observability"
	"github.com/Skriptersz/agariogambling/internal/physics"
	"github.com/Skriptersz/agariogambling/internal/settlement"
	"github.com/Skriptersz/agariogambling/internal/telemetry"
	"github.com/Skriptersz/agariogambling/logging"
)

// HTTPHandlerConfig wires the HTTP surface around the lifecycle controller
// and ledger store.
type HTTPHandlerConfig struct {
	Controller    *lifecycle.Controller
	Store         ledger.Store
	Registrar     ledger.Registrar
	Tokens        ingress.SignedTokens
	WS            *ingress.Handler
	Logger        telemetry.Logger
	Router        *logging.Router
	Observability observability.Config
}

// NewHTTPHandler assembles the full route table: the websocket arena
// endpoint, the provably-fair verify surface, wallet and lobby operations,
// and the diagnostics/debug pages.
func NewHTTPHandler(cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string                        `json:"status"`
			ServerTime int64                         `json:"serverTime"`
			TickRate   int                           `json:"tickRate"`
			Arena      lifecycle.DiagnosticsSnapshot `json:"arena"`
			Logging    logging.RouterStats           `json:"logging"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   physics.TickRate,
			Arena:      cfg.Controller.Diagnostics(),
		}
		if cfg.Router != nil {
			payload.Logging = cfg.Router.Stats()
		}
		writeJSON(w, payload)
	})

	mux.HandleFunc("/verify", ingress.VerifyHandler(cfg.Controller))

	mux.HandleFunc("/ws", cfg.WS.Handle)

	mux.HandleFunc("/account/register", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID       string `json:"id"`
			Nickname string `json:"nickname"`
			Region   string `json:"region"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == "" {
			req.ID = "acct-" + uuid.NewString()
		}
		account := ledger.Account{ID: req.ID, Nickname: req.Nickname, Region: req.Region, KYC: ledger.KYCNone}
		if err := cfg.Registrar.PutAccount(r.Context(), account); err != nil {
			logger.Printf("register account %s: %v", req.ID, err)
			httpError(w, "registration failed", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			AccountID string `json:"accountId"`
			Token     string `json:"token"`
		}{AccountID: req.ID, Token: cfg.Tokens.Issue(req.ID)})
	})

	mux.HandleFunc("/wallet", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		wallet, err := cfg.Store.GetWallet(r.Context(), accountID)
		if err != nil {
			httpError(w, "wallet lookup failed", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			AccountID    string `json:"accountId"`
			AvailableCts int64  `json:"availableCents"`
			EscrowCts    int64  `json:"escrowCents"`
		}{wallet.AccountID, wallet.AvailableCts, wallet.EscrowCts})
	})

	mux.HandleFunc("/wallet/deposit", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		var req struct {
			AmountCts int64  `json:"amountCents"`
			Ref       string `json:"ref"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		entryID, err := cfg.Store.Deposit(r.Context(), idempotencyKey(r), accountID, req.AmountCts, req.Ref)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, struct {
			EntryID string `json:"entryId"`
		}{entryID})
	})

	mux.HandleFunc("/wallet/withdraw", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		var req struct {
			AmountCts int64  `json:"amountCents"`
			Method    string `json:"method"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		entryID, err := cfg.Store.Withdraw(r.Context(), idempotencyKey(r), accountID, req.AmountCts, req.Method)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, struct {
			EntryID string `json:"entryId"`
		}{entryID})
	})

	mux.HandleFunc("/wallet/history", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if value, err := strconv.Atoi(raw); err == nil && value > 0 {
				limit = value
			}
		}
		entries, next, err := cfg.Store.History(r.Context(), accountID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			httpError(w, "history lookup failed", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			Entries    []ledger.LedgerEntry `json:"entries"`
			NextCursor string               `json:"nextCursor,omitempty"`
		}{entries, next})
	})

	mux.HandleFunc("/lobby/create", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Mode        string `json:"mode"`
			BuyInCts    int64  `json:"buyInCents"`
			Capacity    int    `json:"capacity"`
			PayoutModel string `json:"payoutModel"`
			RakeBps     int    `json:"rakeBps"`
			RakeCapCts  int64  `json:"rakeCapCents"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		lobby, err := cfg.Controller.CreateLobby(r.Context(), lifecycle.LobbySpec{
			Mode:        lifecycle.Mode(req.Mode),
			BuyInCts:    req.BuyInCts,
			Capacity:    req.Capacity,
			PayoutModel: settlement.Model(req.PayoutModel),
			RakeBps:     req.RakeBps,
			RakeCapCts:  req.RakeCapCts,
		})
		if err != nil {
			httpError(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		writeJSON(w, lobby)
	})

	mux.HandleFunc("/lobby/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		var req struct {
			LobbyID string `json:"lobbyId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Controller.Join(r.Context(), req.LobbyID, accountID); err != nil {
			writeLifecycleError(w, err)
			return
		}
		lobby, err := cfg.Controller.Lobby(req.LobbyID)
		if err != nil {
			writeLifecycleError(w, err)
			return
		}
		writeJSON(w, lobby)
	})

	mux.HandleFunc("/lobby/leave", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		accountID, ok := authenticate(w, r, cfg.Tokens)
		if !ok {
			return
		}
		var req struct {
			LobbyID string `json:"lobbyId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Controller.Leave(r.Context(), req.LobbyID, accountID); err != nil {
			writeLifecycleError(w, err)
			return
		}
		writeJSON(w, struct {
			Status string `json:"status"`
		}{"ok"})
	})

	mux.HandleFunc("/lobby", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		lobbyID := r.URL.Query().Get("id")
		if lobbyID == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}
		lobby, err := cfg.Controller.Lobby(lobbyID)
		if err != nil {
			writeLifecycleError(w, err)
			return
		}
		writeJSON(w, lobby)
	})

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

// authenticate resolves the bearer token on a request to an account id,
// writing the rejection itself on failure.
func authenticate(w nethttp.ResponseWriter, r *nethttp.Request, auth ingress.Authenticator) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		httpError(w, "missing token", nethttp.StatusUnauthorized)
		return "", false
	}
	accountID, err := auth.Authenticate(r.Context(), token)
	if err != nil {
		httpError(w, "bad token", nethttp.StatusUnauthorized)
		return "", false
	}
	return accountID, true
}

func idempotencyKey(r *nethttp.Request) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return "http:" + uuid.NewString()
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		httpError(w, "missing payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeLedgerError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAmountInvalid):
		httpError(w, err.Error(), nethttp.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		httpError(w, err.Error(), nethttp.StatusConflict)
	case errors.Is(err, ledger.ErrKYCRequired):
		httpError(w, err.Error(), nethttp.StatusForbidden)
	default:
		httpError(w, "ledger operation failed", nethttp.StatusInternalServerError)
	}
}

func writeLifecycleError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrLobbyNotFound), errors.Is(err, lifecycle.ErrMatchNotFound):
		httpError(w, err.Error(), nethttp.StatusNotFound)
	case errors.Is(err, lifecycle.ErrLobbyNotOpen),
		errors.Is(err, lifecycle.ErrLobbyFull),
		errors.Is(err, lifecycle.ErrAlreadyMember),
		errors.Is(err, lifecycle.ErrNotMember),
		errors.Is(err, ledger.ErrInsufficientFunds):
		httpError(w, err.Error(), nethttp.StatusConflict)
	default:
		httpError(w, "lobby operation failed", nethttp.StatusInternalServerError)
	}
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
