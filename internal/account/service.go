// Package account registers players and checks their credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/auth"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

var (
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingFields      = errors.New("username and password are required")
)

// DefaultStartingBalance is the cash every new player receives.
var DefaultStartingBalance = decimal.NewFromInt(5000)

// RegisterRequest is the sign-up form.
type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Email           string `json:"email"`
}

// Service creates and authenticates accounts.
type Service struct {
	store           store.Store
	startingBalance decimal.Decimal
	log             *slog.Logger

	mu   sync.Mutex // guards rand
	rand *rand.Rand
}

// NewService creates an account service. A nil src seeds from the clock.
func NewService(st store.Store, startingBalance decimal.Decimal, src rand.Source, logger *slog.Logger) *Service {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:           st,
		startingBalance: startingBalance,
		log:             logger,
		rand:            rand.New(src),
	}
}

// Create persists a new account with the starting balance plus one unit of
// a random stock and one unit of a random crypto. An empty catalog class
// grants nothing.
func (s *Service) Create(ctx context.Context, username, passwordHash, email string) (*model.Account, error) {
	a := &model.Account{
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		Balance:      s.startingBalance,
		Stocks:       model.Holdings{},
		Cryptos:      model.Holdings{},
	}

	for _, class := range model.Classes {
		assets, err := s.store.ListAssets(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", class, err)
		}
		if len(assets) == 0 {
			continue
		}
		pick := assets[s.intn(len(assets))]
		a.Portfolio(class).Add(pick.Symbol, decimal.NewFromInt(1))
	}

	if err := s.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.log.Info("account created",
		"id", a.ID,
		"username", a.Username,
		"stocks", a.Stocks.Symbols(),
		"cryptos", a.Cryptos.Symbols(),
	)
	return a, nil
}

// Register validates the sign-up form, hashes the password and creates the account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, username, hash, strings.TrimSpace(req.Email))
}

// Authenticate returns the account when username and password match.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	a, err := s.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if !auth.CheckPassword(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}
