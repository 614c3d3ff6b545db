package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/metrics"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

// PriceScale is the number of decimal places prices are rounded to.
const PriceScale int32 = 8

// minPrice keeps a repeatedly shrinking price from rounding down to zero.
var minPrice = decimal.New(1, -PriceScale)

// Bounds holds the maximum relative move per tick for each class,
// e.g. 0.05 allows a move anywhere in [-5%, +5%).
type Bounds map[model.AssetClass]float64

// DefaultBounds mirror the simulated news volatility: stocks ±5%, cryptos ±10%.
func DefaultBounds() Bounds {
	return Bounds{model.ClassStock: 0.05, model.ClassCrypto: 0.10}
}

// Validate rejects bounds outside (0, 1); a bound of 1 or more could zero a price.
func (b Bounds) Validate() error {
	for class, v := range b {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("catalog: jitter bound for %s must be in (0, 1), got %v", class, v)
		}
	}
	return nil
}

// Jitter applies a relative change to price and keeps the result positive.
func Jitter(price decimal.Decimal, change float64) decimal.Decimal {
	next := price.Mul(decimal.NewFromFloat(1 + change)).Round(PriceScale)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}

// Jitterer moves every listed price independently on each tick. It never
// touches accounts, so it needs no coordination with trade settlement.
type Jitterer struct {
	store  store.Store
	bounds Bounds
	log    *slog.Logger

	mu   sync.Mutex // guards rand
	rand *rand.Rand
}

// NewJitterer creates a jitterer. A nil source seeds from the clock.
func NewJitterer(st store.Store, bounds Bounds, src rand.Source, logger *slog.Logger) (*Jitterer, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jitterer{
		store:  st,
		bounds: bounds,
		log:    logger,
		rand:   rand.New(src),
	}, nil
}

// change draws a uniform relative move in [-bound, +bound).
func (j *Jitterer) change(bound float64) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return (j.rand.Float64() - 0.5) * 2 * bound
}

// Tick applies one round of jitter to every asset in every bounded class.
// A failed update is logged and the remaining assets still move.
func (j *Jitterer) Tick(ctx context.Context) error {
	for _, class := range model.Classes {
		bound, ok := j.bounds[class]
		if !ok {
			continue
		}
		assets, err := j.store.ListAssets(ctx, class)
		if err != nil {
			return fmt.Errorf("list %s: %w", class, err)
		}
		for _, a := range assets {
			next := Jitter(a.Price, j.change(bound))
			if err := j.store.UpdateAssetPrice(ctx, class, a.ID, next); err != nil {
				j.log.Error("price update failed", "class", class, "symbol", a.Symbol, "err", err)
				continue
			}
			price, _ := next.Float64()
			metrics.AssetPrice.WithLabelValues(string(class), a.Symbol).Set(price)
		}
		metrics.PriceTicks.WithLabelValues(string(class)).Inc()
	}
	return nil
}

// Run ticks every interval until ctx is cancelled.
func (j *Jitterer) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	j.log.Info("price jitter started", "tick_every", every.String())
	for {
		select {
		case <-ctx.Done():
			j.log.Info("price jitter stopped")
			return
		case <-ticker.C:
			if err := j.Tick(ctx); err != nil {
				j.log.Error("price tick failed", "err", err)
				continue
			}
			j.log.Debug("price tick complete")
		}
	}
}
