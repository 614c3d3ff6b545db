package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/account"
	"github.com/marketsim/tradesim/internal/events"
	"github.com/marketsim/tradesim/internal/metrics"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
	"github.com/marketsim/tradesim/internal/trade"
)

const (
	stockClass  = model.ClassStock
	cryptoClass = model.ClassCrypto

	publishTimeout = 5 * time.Second

	amountMessage = "Amount and price must be positive with at most 8 decimal places."
)

// --- Accounts ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in account.RegisterRequest
	if err := decodeJSON(r, &in); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid request.")
		return
	}

	a, err := s.deps.Accounts.Register(r.Context(), in)
	switch {
	case errors.Is(err, account.ErrPasswordMismatch):
		writeResult(w, http.StatusBadRequest, false, "Passwords do not match.")
		return
	case errors.Is(err, account.ErrMissingFields):
		writeResult(w, http.StatusBadRequest, false, "Username and password are required.")
		return
	case errors.Is(err, account.ErrUsernameTaken):
		writeResult(w, http.StatusConflict, false, "Username already taken.")
		return
	case err != nil:
		s.log.Error("register failed", "username", in.Username, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "Error creating account.")
		return
	}

	if err := s.startSession(w, a.ID, a.Username); err != nil {
		s.log.Error("issue session failed", "username", a.Username, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "Error creating session.")
		return
	}
	writeResult(w, http.StatusOK, true, "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid request.")
		return
	}

	a, err := s.deps.Accounts.Authenticate(r.Context(), in.Username, in.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		writeResult(w, http.StatusUnauthorized, false, "Invalid credentials.")
		return
	}
	if err != nil {
		s.log.Error("login failed", "username", in.Username, "err", err)
		writeResult(w, http.StatusServiceUnavailable, false, "Login unavailable, please retry.")
		return
	}

	if err := s.startSession(w, a.ID, a.Username); err != nil {
		s.log.Error("issue session failed", "username", a.Username, "err", err)
		writeResult(w, http.StatusInternalServerError, false, "Error creating session.")
		return
	}
	writeResult(w, http.StatusOK, true, "")
}

type userResponse struct {
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Balance  decimal.Decimal `json:"balance"`
	Stocks   model.Holdings  `json:"stocks"`
	Cryptos  model.Holdings  `json:"cryptos"`
	IsAdmin  bool            `json:"isAdmin"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	a, ok := s.currentAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		Username: a.Username,
		Email:    a.Email,
		Balance:  a.Balance,
		Stocks:   a.Stocks.Clone(),
		Cryptos:  a.Cryptos.Clone(),
		IsAdmin:  a.IsAdmin,
	})
}

// currentAccount loads the session's account or writes the failure.
func (s *Server) currentAccount(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeResult(w, http.StatusUnauthorized, false, "Not logged in.")
		return nil, false
	}
	a, err := s.deps.Store.GetAccount(r.Context(), user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeResult(w, http.StatusUnauthorized, false, "Account no longer exists.")
		return nil, false
	}
	if err != nil {
		s.log.Error("load account failed", "id", user.ID, "err", err)
		writeResult(w, http.StatusServiceUnavailable, false, "Storage unavailable, please retry.")
		return nil, false
	}
	return a, true
}

// --- Catalog ---

func (s *Server) handleAssets(class model.AssetClass) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := s.deps.Store.ListAssets(r.Context(), class)
		if err != nil {
			s.log.Error("list assets failed", "class", class, "err", err)
			writeResult(w, http.StatusServiceUnavailable, false, "Storage unavailable, please retry.")
			return
		}
		if assets == nil {
			assets = []model.Asset{}
		}
		writeJSON(w, http.StatusOK, assets)
	}
}

// --- Trading ---

type tradeRequest struct {
	ToUser    string          `json:"toUser"`
	AssetType string          `json:"assetType"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeResult(w, http.StatusUnauthorized, false, "Not logged in.")
		return
	}

	var in tradeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid request.")
		return
	}

	rc, err := s.deps.Ledger.Settle(r.Context(), trade.Intent{
		FromAccountID: user.ID,
		ToUsername:    strings.TrimSpace(in.ToUser),
		Class:         model.AssetClass(in.AssetType),
		Symbol:        in.Symbol,
		Quantity:      in.Amount,
		UnitPrice:     in.Price,
	})
	if err != nil {
		writeTradeError(w, err, in.AssetType)
		return
	}

	s.publish(rc)
	writeJSON(w, http.StatusOK, result{Success: true, Trade: &rc})
}

// publish hands the event to the broker off the request path. The trade is
// already committed, so a broker failure is only logged.
func (s *Server) publish(rc trade.Receipt) {
	ev := events.FromReceipt(rc)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.deps.Events.PublishTradeSettled(ctx, ev); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Inc()
			s.log.Error("publish trade event failed", "trade_id", ev.TradeID, "err", err)
			return
		}
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	}()
}

func writeTradeError(w http.ResponseWriter, err error, assetType string) {
	switch {
	case errors.Is(err, trade.ErrRecipientNotFound):
		writeResult(w, http.StatusNotFound, false, "Recipient not found.")
	case errors.Is(err, trade.ErrInvalidAmount):
		writeResult(w, http.StatusBadRequest, false, amountMessage)
	case errors.Is(err, trade.ErrInvalidAsset):
		writeResult(w, http.StatusBadRequest, false, "Unknown asset type or symbol.")
	case errors.Is(err, trade.ErrInsufficientHoldings):
		if model.AssetClass(strings.ToLower(assetType)) == cryptoClass {
			writeResult(w, http.StatusConflict, false, "Insufficient crypto.")
		} else {
			writeResult(w, http.StatusConflict, false, "Insufficient stock.")
		}
	case errors.Is(err, trade.ErrInsufficientFunds):
		writeResult(w, http.StatusConflict, false, "Recipient has insufficient funds.")
	case errors.Is(err, trade.ErrSelfTrade):
		writeResult(w, http.StatusBadRequest, false, "You cannot trade with yourself.")
	case errors.Is(err, trade.ErrInitiatorNotFound):
		writeResult(w, http.StatusUnauthorized, false, "Account no longer exists.")
	case errors.Is(err, trade.ErrStorageUnavailable):
		writeResult(w, http.StatusServiceUnavailable, false, "Storage unavailable, please retry.")
	case errors.Is(err, trade.ErrConcurrentModification):
		writeResult(w, http.StatusConflict, false, "Account changed during the trade, please retry.")
	default:
		writeResult(w, http.StatusInternalServerError, false, "Trade failed.")
	}
}

// --- Tickets ---

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeResult(w, http.StatusUnauthorized, false, "Not logged in.")
		return
	}

	var in struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid request.")
		return
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		writeResult(w, http.StatusBadRequest, false, "Message is required.")
		return
	}

	t := &model.Ticket{AccountID: user.ID, Status: model.TicketOpen, Message: msg}
	if err := s.deps.Store.CreateTicket(r.Context(), t); err != nil {
		s.log.Error("create ticket failed", "user", user.Username, "err", err)
		writeResult(w, http.StatusServiceUnavailable, false, "Error submitting ticket.")
		return
	}
	s.log.Info("ticket submitted", "ticket_id", t.ID, "user", user.Username)
	writeResult(w, http.StatusOK, true, "")
}

func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	a, ok := s.currentAccount(w, r)
	if !ok {
		return
	}

	var (
		tickets []model.Ticket
		err     error
	)
	if a.IsAdmin {
		tickets, err = s.deps.Store.ListTickets(r.Context())
	} else {
		tickets, err = s.deps.Store.ListTicketsByAccount(r.Context(), a.ID)
	}
	if err != nil {
		s.log.Error("list tickets failed", "user", a.Username, "err", err)
		writeResult(w, http.StatusServiceUnavailable, false, "Storage unavailable, please retry.")
		return
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// --- Presence ---

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Hub.Online(r.Context())
	if err != nil {
		writeResult(w, http.StatusServiceUnavailable, false, "Presence unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users": users})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeResult(w, http.StatusUnauthorized, false, "Not logged in.")
		return
	}
	s.deps.Hub.ServeWS(w, r, user.Username)
}
