// Package model defines the core domain types shared across the trading simulator.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass distinguishes the two tradable catalogs.
type AssetClass string

const (
	ClassStock  AssetClass = "stock"
	ClassCrypto AssetClass = "crypto"
)

// Classes lists every asset class in catalog order.
var Classes = []AssetClass{ClassStock, ClassCrypto}

var ErrUnknownAssetClass = errors.New("model: asset class must be stock or crypto")

// ParseAssetClass accepts "stock"/"crypto" in any case.
func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassStock:
		return ClassStock, nil
	case ClassCrypto:
		return ClassCrypto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAssetClass, s)
}

// TicketOpen is the only ticket status the system assigns.
const TicketOpen = "open"

// Account is a player: cash balance plus one portfolio per asset class.
type Account struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Email        string          `json:"email"`
	Balance      decimal.Decimal `json:"balance"`
	Stocks       Holdings        `json:"stocks"`
	Cryptos      Holdings        `json:"cryptos"`
	IsAdmin      bool            `json:"is_admin"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Portfolio returns the holdings map for class, allocating it if needed so
// callers can mutate the result in place.
func (a *Account) Portfolio(class AssetClass) Holdings {
	switch class {
	case ClassStock:
		if a.Stocks == nil {
			a.Stocks = Holdings{}
		}
		return a.Stocks
	case ClassCrypto:
		if a.Cryptos == nil {
			a.Cryptos = Holdings{}
		}
		return a.Cryptos
	}
	return nil
}

// Clone returns a deep copy; stores hand out clones so callers never alias
// stored state.
func (a *Account) Clone() *Account {
	c := *a
	c.Stocks = a.Stocks.Clone()
	c.Cryptos = a.Cryptos.Clone()
	return &c
}

// Asset is a stock or crypto listed in the catalog. Price is mutated only by
// the price jitter loop.
type Asset struct {
	ID          int64           `json:"id"`
	Class       AssetClass      `json:"class"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

// Ticket is a support request filed by a player.
type Ticket struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
