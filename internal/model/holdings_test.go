package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestHoldings_SubRemovesZeroedEntry(t *testing.T) {
	h := Holdings{"AAPL": d(2)}
	h.Sub("AAPL", d(2))

	if _, ok := h["AAPL"]; ok {
		t.Fatalf("expected AAPL entry to be removed, got %v", h)
	}
	if !h.Quantity("AAPL").IsZero() {
		t.Errorf("expected zero quantity, got %s", h.Quantity("AAPL"))
	}
}

func TestHoldings_AddCreatesEntry(t *testing.T) {
	h := Holdings{}
	h.Add("BTC", d(0.5))
	h.Add("BTC", d(0.25))

	if !h.Quantity("BTC").Equal(d(0.75)) {
		t.Errorf("expected 0.75 BTC, got %s", h.Quantity("BTC"))
	}
}

func TestHoldings_NormalizeDropsNonPositive(t *testing.T) {
	h := Holdings{"AAPL": d(1), "GOOGL": decimal.Zero, "AMZN": d(-3)}
	h.Normalize()

	if got := h.Symbols(); len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("expected only AAPL after normalize, got %v", got)
	}
}

func TestHoldings_CloneIsIndependent(t *testing.T) {
	h := Holdings{"ETH": d(3)}
	c := h.Clone()
	c.Sub("ETH", d(1))

	if !h.Quantity("ETH").Equal(d(3)) {
		t.Errorf("clone mutation leaked into original: %s", h.Quantity("ETH"))
	}

	var empty Holdings
	if empty.Clone() == nil {
		t.Error("clone of nil holdings should be a usable map")
	}
}

func TestAccount_PortfolioAllocates(t *testing.T) {
	a := &Account{}
	a.Portfolio(ClassCrypto).Add("DOGE", d(10))

	if !a.Cryptos.Quantity("DOGE").Equal(d(10)) {
		t.Errorf("expected portfolio write to land in Cryptos, got %v", a.Cryptos)
	}
	if a.Portfolio("bond") != nil {
		t.Error("unknown class should have no portfolio")
	}
}

func TestParseAssetClass(t *testing.T) {
	for _, in := range []string{"stock", "STOCK", " crypto "} {
		if _, err := ParseAssetClass(in); err != nil {
			t.Errorf("ParseAssetClass(%q) unexpected error: %v", in, err)
		}
	}
	if _, err := ParseAssetClass("bond"); err == nil {
		t.Error("expected error for unknown class")
	}
}
