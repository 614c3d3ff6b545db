// Package trade is the ledger core: it settles peer-to-peer trades by moving
// holdings from the initiator to the recipient and the matching payment the
// other way, as one atomic unit.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/catalog"
	"github.com/marketsim/tradesim/internal/metrics"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

// SelfTradePolicy decides what happens when the recipient is the initiator.
type SelfTradePolicy string

const (
	SelfTradeReject SelfTradePolicy = "reject"
	SelfTradeAllow  SelfTradePolicy = "allow"
)

// Options tunes settlement behaviour.
type Options struct {
	SelfTrade SelfTradePolicy
	// AllowRecipientOverdraft lets a recipient's balance go negative.
	AllowRecipientOverdraft bool
	// SettleTimeout bounds lock waits and storage calls; zero means no bound.
	SettleTimeout time.Duration
}

// DefaultOptions returns the permissive settings the simulation ships with.
func DefaultOptions() Options {
	return Options{
		SelfTrade:               SelfTradeReject,
		AllowRecipientOverdraft: true,
		SettleTimeout:           5 * time.Second,
	}
}

// AmountScale is the most decimal places a quantity or unit price may carry.
const AmountScale = catalog.PriceScale

// maxExponent bounds the decimal exponent of incoming amounts so that
// rescaling and printing them stays cheap.
const maxExponent = 18

// MaxAmount is the largest quantity or unit price a single trade accepts.
var MaxAmount = decimal.New(1, 12)

// Intent is a validated-on-entry request to move Quantity of Symbol from the
// initiator to the recipient at UnitPrice each.
type Intent struct {
	FromAccountID int64
	ToUsername    string
	Class         model.AssetClass
	Symbol        string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
}

// Receipt describes a settled trade.
type Receipt struct {
	ID        string           `json:"id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Class     model.AssetClass `json:"asset_class"`
	Symbol    string           `json:"symbol"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Total     decimal.Decimal  `json:"total"`
	Balance   decimal.Decimal  `json:"balance"` // initiator balance after settlement
	SettledAt time.Time        `json:"settled_at"`
}

// Service settles trades. Accounts are serialized with per-account locks
// taken in ascending id order, and the store transaction commits both
// accounts or neither.
type Service struct {
	store store.Store
	opts  Options
	locks *accountLocks
	log   *slog.Logger
}

// NewService creates a ledger service. A nil logger falls back to slog.Default().
func NewService(st store.Store, opts Options, logger *slog.Logger) *Service {
	if opts.SelfTrade == "" {
		opts.SelfTrade = SelfTradeReject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store: st,
		opts:  opts,
		locks: newAccountLocks(),
		log:   logger,
	}
}

// Settle validates in and applies it. On any error no account is modified.
func (s *Service) Settle(ctx context.Context, in Intent) (Receipt, error) {
	start := time.Now()
	rc, err := s.settle(ctx, in)

	metrics.TradesTotal.WithLabelValues(string(in.Class), outcome(err)).Inc()
	if err != nil {
		s.log.Warn("trade rejected",
			"from_id", in.FromAccountID,
			"to", in.ToUsername,
			"class", in.Class,
			"symbol", in.Symbol,
			"qty", logAmount(in.Quantity),
			"err", err,
		)
		return Receipt{}, err
	}

	metrics.SettleLatency.WithLabelValues(string(rc.Class)).Observe(time.Since(start).Seconds())
	qty, _ := rc.Quantity.Float64()
	metrics.TradeVolume.WithLabelValues(string(rc.Class), rc.Symbol).Add(qty)

	s.log.Info("trade settled",
		"trade_id", rc.ID,
		"from", rc.From,
		"to", rc.To,
		"class", rc.Class,
		"symbol", rc.Symbol,
		"qty", rc.Quantity.String(),
		"unit_price", rc.UnitPrice.String(),
		"total", rc.Total.String(),
	)
	return rc, nil
}

func (s *Service) settle(ctx context.Context, in Intent) (Receipt, error) {
	// --- Input validation ---
	if err := checkAmount("quantity", in.Quantity); err != nil {
		return Receipt{}, err
	}
	if err := checkAmount("price", in.UnitPrice); err != nil {
		return Receipt{}, err
	}
	class, err := model.ParseAssetClass(string(in.Class))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	symbol, err := catalog.NormalizeSymbol(in.Symbol)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	if s.opts.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SettleTimeout)
		defer cancel()
	}

	// --- Resolve recipient ---
	recipient, err := s.store.GetAccountByUsername(ctx, in.ToUsername)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Receipt{}, fmt.Errorf("%w: %q", ErrRecipientNotFound, in.ToUsername)
		}
		return Receipt{}, classify(err)
	}

	selfTrade := recipient.ID == in.FromAccountID
	if selfTrade && s.opts.SelfTrade != SelfTradeAllow {
		return Receipt{}, ErrSelfTrade
	}

	release, err := s.locks.acquire(ctx, in.FromAccountID, recipient.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: waiting for account lock: %v", ErrStorageUnavailable, err)
	}
	defer release()

	total := in.Quantity.Mul(in.UnitPrice)
	rc := Receipt{
		ID:        uuid.New().String(),
		To:        recipient.Username,
		Class:     class,
		Symbol:    symbol,
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
		Total:     total,
	}

	if selfTrade {
		err = s.store.UpdateAccountsTx(ctx, []int64{in.FromAccountID}, func(accts []*model.Account) error {
			self := accts[0]
			if err := checkHoldings(self, class, symbol, in.Quantity); err != nil {
				return err
			}
			rc.From = self.Username
			rc.Balance = self.Balance
			return nil
		})
	} else {
		err = s.store.UpdateAccountsTx(ctx, []int64{in.FromAccountID, recipient.ID}, func(accts []*model.Account) error {
			from, to := accts[0], accts[1]
			if err := checkHoldings(from, class, symbol, in.Quantity); err != nil {
				return err
			}
			if !s.opts.AllowRecipientOverdraft && to.Balance.LessThan(total) {
				return fmt.Errorf("%w: %s needs %s, has %s", ErrInsufficientFunds, to.Username, total, to.Balance)
			}

			from.Portfolio(class).Sub(symbol, in.Quantity)
			to.Portfolio(class).Add(symbol, in.Quantity)
			from.Balance = from.Balance.Add(total)
			to.Balance = to.Balance.Sub(total)

			rc.From = from.Username
			rc.Balance = from.Balance
			return nil
		})
	}
	if err != nil {
		return Receipt{}, classify(err)
	}

	rc.SettledAt = time.Now().UTC()
	return rc, nil
}

// checkAmount accepts positive values up to MaxAmount with at most
// AmountScale decimal places. The exponent is checked first: comparing or
// rounding a value like 1e-20000000 would expand it to millions of digits.
func checkAmount(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, name)
	}
	if exp := d.Exponent(); exp < -maxExponent || exp > maxExponent {
		return fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, name)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, name, MaxAmount)
	}
	if !d.Equal(d.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, name, AmountScale)
	}
	return nil
}

// logAmount renders d for a log line without expanding extreme exponents.
func logAmount(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < -maxExponent || exp > maxExponent {
		return "out_of_range"
	}
	return d.String()
}

func checkHoldings(a *model.Account, class model.AssetClass, symbol string, qty decimal.Decimal) error {
	held := a.Portfolio(class).Quantity(symbol)
	if held.LessThan(qty) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientHoldings, a.Username, held, symbol, qty)
	}
	return nil
}

var domainErrors = []error{
	ErrRecipientNotFound,
	ErrInitiatorNotFound,
	ErrInvalidAmount,
	ErrInvalidAsset,
	ErrInsufficientHoldings,
	ErrInsufficientFunds,
	ErrSelfTrade,
	ErrStorageUnavailable,
	ErrConcurrentModification,
}

// classify maps store failures onto the ledger's error kinds. Domain errors
// raised inside the transaction pass through unchanged.
func classify(err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Recipients were resolved moments ago and accounts are never deleted.
		return fmt.Errorf("%w: %v", ErrInitiatorNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

// outcome is the metrics label for a settlement result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRecipientNotFound), errors.Is(err, ErrInitiatorNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAsset), errors.Is(err, ErrSelfTrade):
		return "invalid"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	default:
		return "unavailable"
	}
}
