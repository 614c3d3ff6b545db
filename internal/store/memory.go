package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[int64]*model.Account
	byUsername map[string]int64
	assets     map[model.AssetClass][]*model.Asset
	tickets    []model.Ticket
	nextID     int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[int64]*model.Account),
		byUsername: make(map[string]int64),
		assets:     make(map[model.AssetClass][]*model.Asset),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[a.Username]; ok {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
	}
	a.ID = s.id()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.accounts[a.ID] = a.Clone()
	s.byUsername[a.Username] = a.ID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	return s.accounts[id].Clone(), nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %d: %w", a.ID, ErrNotFound)
	}
	cur.Balance = a.Balance
	cur.Stocks = a.Stocks.Clone().Normalize()
	cur.Cryptos = a.Cryptos.Clone().Normalize()
	return nil
}

// UpdateAccountsTx runs fn on copies under the write lock and swaps the
// copies in only when fn succeeds.
func (s *MemoryStore) UpdateAccountsTx(_ context.Context, ids []int64, fn AccountTxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := make([]*model.Account, len(ids))
	for i, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			return fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		working[i] = a.Clone()
	}

	if err := fn(working); err != nil {
		return err
	}

	for _, a := range working {
		cur := s.accounts[a.ID]
		cur.Balance = a.Balance
		cur.Stocks = a.Stocks.Clone().Normalize()
		cur.Cryptos = a.Cryptos.Clone().Normalize()
	}
	return nil
}

func (s *MemoryStore) SetAdmin(_ context.Context, username string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[username]
	if !ok {
		return fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	s.accounts[id].IsAdmin = admin
	return nil
}

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assets[a.Class] {
		if existing.Symbol == a.Symbol {
			return fmt.Errorf("%s %s already listed", a.Class, a.Symbol)
		}
	}
	a.ID = s.id()
	stored := *a
	s.assets[a.Class] = append(s.assets[a.Class], &stored)
	return nil
}

func (s *MemoryStore) ListAssets(_ context.Context, class model.AssetClass) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assets[class]))
	for _, a := range s.assets[class] {
		assets = append(assets, *a)
	}
	return assets, nil
}

func (s *MemoryStore) UpdateAssetPrice(_ context.Context, class model.AssetClass, id int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assets[class] {
		if a.ID == id {
			a.Price = price
			return nil
		}
	}
	return fmt.Errorf("%s %d: %w", class, id, ErrNotFound)
}

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[t.AccountID]; !ok {
		return fmt.Errorf("account %d: %w", t.AccountID, ErrNotFound)
	}
	t.ID = s.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tickets = append(s.tickets, *t)
	return nil
}

func (s *MemoryStore) ListTicketsByAccount(_ context.Context, accountID int64) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Ticket{}
	for _, t := range s.tickets {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTickets(_ context.Context) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if a, ok := s.accounts[t.AccountID]; ok {
			t.Username = a.Username
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
