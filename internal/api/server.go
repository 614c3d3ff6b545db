// Package api exposes the trading simulation over HTTP: JSON endpoints,
// session-gated pages and the presence websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/account"
	"github.com/marketsim/tradesim/internal/auth"
	"github.com/marketsim/tradesim/internal/events"
	"github.com/marketsim/tradesim/internal/metrics"
	"github.com/marketsim/tradesim/internal/presence"
	"github.com/marketsim/tradesim/internal/store"
	"github.com/marketsim/tradesim/internal/trade"
)

const sessionCookie = "session"

func init() {
	// The browser client does arithmetic on balances and prices
	// (balance.toFixed(2)), so decimals go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type contextKey string

const userContextKey contextKey = "user"

// UserContext identifies the logged-in player for one request.
type UserContext struct {
	ID       int64
	Username string
}

// Deps are the services the server routes to.
type Deps struct {
	Store    store.Store
	Accounts *account.Service
	Ledger   *trade.Service
	Sessions *auth.Sessions
	Hub      *presence.Hub
	Events   events.Publisher

	StaticDir     string
	SecureCookies bool
}

type Server struct {
	deps Deps
	log  *slog.Logger
	mux  *chi.Mux
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	s := &Server{
		deps: deps,
		log:  logger,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Public pages and assets.
	r.Get("/", s.page("index.html"))
	r.Get("/register", s.page("register.html"))
	r.Handle("/js/*", http.FileServer(http.Dir(s.deps.StaticDir)))
	r.Handle("/css/*", http.FileServer(http.Dir(s.deps.StaticDir)))
	r.Get("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/user", s.handleUser)
			r.Get("/stocks", s.handleAssets(stockClass))
			r.Get("/cryptos", s.handleAssets(cryptoClass))
			r.Post("/trade", s.handleTrade)
			r.Post("/ticket", s.handleCreateTicket)
			r.Get("/tickets", s.handleTickets)
			r.Get("/online", s.handleOnline)
		})
	})

	r.With(s.requireSession).Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requirePageSession)
		r.Get("/game", s.page("game.html"))
		r.Get("/trade", s.page("trade.html"))
		r.Get("/tickets", s.page("tickets.html"))
		r.Get("/settings", s.page("settings.html"))
		r.Get("/admin", s.handleAdminPage)
	})
}

// --- Sessions ---

func (s *Server) sessionUser(r *http.Request) (UserContext, bool) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return UserContext{}, false
	}
	claims, err := s.deps.Sessions.Parse(token)
	if err != nil {
		return UserContext{}, false
	}
	return UserContext{ID: claims.UserID, Username: claims.Username}, true
}

// requireSession rejects API calls without a valid session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.sessionUser(r)
		if !ok {
			writeResult(w, http.StatusUnauthorized, false, "Not logged in.")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePageSession sends visitors without a session back to the login page.
func (s *Server) requirePageSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.sessionUser(r)
		if !ok {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	user, ok := ctx.Value(userContextKey).(UserContext)
	if !ok || user.ID == 0 {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) startSession(w http.ResponseWriter, id int64, username string) error {
	token, err := s.deps.Sessions.Issue(id, username)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.deps.Sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// --- Pages ---

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(s.deps.StaticDir, name))
	}
}

func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	a, err := s.deps.Store.GetAccount(r.Context(), user.ID)
	if err != nil || !a.IsAdmin {
		http.Error(w, "Access Denied", http.StatusForbidden)
		return
	}
	s.page("admin.html")(w, r)
}

// --- Helpers ---

type result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Trade   *trade.Receipt `json:"trade,omitempty"`
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeResult(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, result{Success: success, Message: strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
