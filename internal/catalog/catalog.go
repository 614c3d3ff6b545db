// Package catalog handles the tradable asset lists: symbol validation,
// the default listing seeded into an empty store, and the periodic
// price jitter that simulates market news.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

// symbolRegex matches upper-case tickers such as AAPL, BTC or BRK.B.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,10}(\.[A-Z0-9]{1,4})?$`)

var ErrInvalidSymbol = errors.New("catalog: invalid symbol")

// NormalizeSymbol trims and upper-cases symbol, then validates its format.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// Defaults returns the listing a fresh deployment starts with.
func Defaults() []model.Asset {
	return []model.Asset{
		{Class: model.ClassStock, Symbol: "AAPL", Name: "Apple Inc.", Price: decimal.NewFromInt(150),
			Description: "Apple Inc. – Think Different, but invest wisely!"},
		{Class: model.ClassStock, Symbol: "GOOGL", Name: "Alphabet Inc.", Price: decimal.NewFromInt(2800),
			Description: "Alphabet: Search your way to success!"},
		{Class: model.ClassStock, Symbol: "AMZN", Name: "Amazon.com Inc.", Price: decimal.NewFromInt(3300),
			Description: "Amazon: The world’s biggest online marketplace!"},
		{Class: model.ClassCrypto, Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(30000),
			Description: "Bitcoin: The original cryptocurrency!"},
		{Class: model.ClassCrypto, Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(2000),
			Description: "Ethereum: Fueling decentralized apps!"},
		{Class: model.ClassCrypto, Symbol: "DOGE", Name: "Dogecoin", Price: decimal.RequireFromString("0.2"),
			Description: "Dogecoin: Much wow, very invest!"},
	}
}

// Seed lists assets into every class that is currently empty. Classes that
// already have listings are left untouched. It returns how many assets were
// inserted.
func Seed(ctx context.Context, st store.Store, assets []model.Asset) (int, error) {
	empty := make(map[model.AssetClass]bool, len(model.Classes))
	for _, class := range model.Classes {
		existing, err := st.ListAssets(ctx, class)
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", class, err)
		}
		empty[class] = len(existing) == 0
	}

	inserted := 0
	for _, a := range assets {
		if !empty[a.Class] {
			continue
		}
		a := a
		if err := st.CreateAsset(ctx, &a); err != nil {
			return inserted, fmt.Errorf("seed %s %s: %w", a.Class, a.Symbol, err)
		}
		inserted++
	}
	return inserted, nil
}
