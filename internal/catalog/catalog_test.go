package catalog

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNormalizeSymbol_Valid(t *testing.T) {
	cases := map[string]string{
		"AAPL":  "AAPL",
		" btc ": "BTC",
		"brk.b": "BRK.B",
		"GOOGL": "GOOGL",
		"1INCH": "1INCH",
	}
	for in, want := range cases {
		got, err := NormalizeSymbol(in)
		if err != nil {
			t.Errorf("NormalizeSymbol(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSymbol_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "AA PL", "TOOLONGSYMBOL", "BTC-USD", "$ETH"} {
		if _, err := NormalizeSymbol(in); !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("NormalizeSymbol(%q): expected ErrInvalidSymbol, got %v", in, err)
		}
	}
}

func TestDefaults_AreValid(t *testing.T) {
	perClass := map[model.AssetClass]int{}
	for _, a := range Defaults() {
		if _, err := NormalizeSymbol(a.Symbol); err != nil {
			t.Errorf("default symbol %s invalid: %v", a.Symbol, err)
		}
		if !a.Price.IsPositive() {
			t.Errorf("default %s has non-positive price %s", a.Symbol, a.Price)
		}
		perClass[a.Class]++
	}
	if perClass[model.ClassStock] != 3 || perClass[model.ClassCrypto] != 3 {
		t.Errorf("expected 3 stocks and 3 cryptos, got %v", perClass)
	}
}

func TestSeed_OnlyEmptyClasses(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	existing := &model.Asset{Class: model.ClassStock, Symbol: "TSLA", Name: "Tesla", Price: d(200)}
	if err := ms.CreateAsset(ctx, existing); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	n, err := Seed(ctx, ms, Defaults())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 cryptos inserted, got %d", n)
	}

	stocks, _ := ms.ListAssets(ctx, model.ClassStock)
	if len(stocks) != 1 || stocks[0].Symbol != "TSLA" {
		t.Errorf("stock listing should be untouched, got %+v", stocks)
	}

	// Second run is a no-op.
	n, err = Seed(ctx, ms, Defaults())
	if err != nil || n != 0 {
		t.Errorf("expected idempotent reseed, got n=%d err=%v", n, err)
	}
}

func TestJitter_StaysWithinBounds(t *testing.T) {
	price := d(150)
	for _, change := range []float64{-0.05, -0.01, 0, 0.03, 0.0499} {
		next := Jitter(price, change)
		lo := price.Mul(d(0.95))
		hi := price.Mul(d(1.05))
		if next.LessThan(lo) || next.GreaterThan(hi) {
			t.Errorf("Jitter(150, %v) = %s outside [%s, %s]", change, next, lo, hi)
		}
	}
}

func TestJitter_NeverReachesZero(t *testing.T) {
	price := d(0.00000001)
	if next := Jitter(price, -0.99); !next.IsPositive() {
		t.Errorf("expected positive floor, got %s", next)
	}
}

func TestBounds_Validate(t *testing.T) {
	if err := DefaultBounds().Validate(); err != nil {
		t.Errorf("default bounds should validate: %v", err)
	}
	if err := (Bounds{model.ClassStock: 1}).Validate(); err == nil {
		t.Error("expected bound of 1 to be rejected")
	}
	if err := (Bounds{model.ClassCrypto: 0}).Validate(); err == nil {
		t.Error("expected zero bound to be rejected")
	}
}

func TestJitterer_TickMovesEveryPriceWithinClassBound(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := Seed(ctx, ms, Defaults()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	before := map[string]decimal.Decimal{}
	for _, class := range model.Classes {
		assets, _ := ms.ListAssets(ctx, class)
		for _, a := range assets {
			before[a.Symbol] = a.Price
		}
	}

	j, err := NewJitterer(ms, DefaultBounds(), rand.NewSource(42), nil)
	if err != nil {
		t.Fatalf("NewJitterer: %v", err)
	}

	for i := 0; i < 20; i++ {
		prev := map[string]decimal.Decimal{}
		for _, class := range model.Classes {
			assets, _ := ms.ListAssets(ctx, class)
			for _, a := range assets {
				prev[a.Symbol] = a.Price
			}
		}

		if err := j.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}

		for _, class := range model.Classes {
			bound := d(DefaultBounds()[class])
			assets, _ := ms.ListAssets(ctx, class)
			for _, a := range assets {
				p := prev[a.Symbol]
				move := a.Price.Sub(p).Div(p).Abs()
				// Rounding to PriceScale can add a hair over the bound for tiny prices.
				if move.GreaterThan(bound.Add(d(0.000001))) {
					t.Fatalf("%s moved %s, more than %s bound", a.Symbol, move, bound)
				}
				if !a.Price.IsPositive() {
					t.Fatalf("%s price went non-positive: %s", a.Symbol, a.Price)
				}
			}
		}
	}

	moved := 0
	for _, class := range model.Classes {
		assets, _ := ms.ListAssets(ctx, class)
		for _, a := range assets {
			if !a.Price.Equal(before[a.Symbol]) {
				moved++
			}
		}
	}
	if moved == 0 {
		t.Error("expected prices to move after 20 ticks")
	}
}
