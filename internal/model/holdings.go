package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Holdings maps a symbol to the quantity held. Entries with a quantity <= 0
// are never kept.
type Holdings map[string]decimal.Decimal

// Quantity returns the held amount of symbol, zero if absent.
func (h Holdings) Quantity(symbol string) decimal.Decimal {
	if q, ok := h[symbol]; ok {
		return q
	}
	return decimal.Zero
}

// Add credits qty of symbol.
func (h Holdings) Add(symbol string, qty decimal.Decimal) {
	h[symbol] = h.Quantity(symbol).Add(qty)
	if !h[symbol].IsPositive() {
		delete(h, symbol)
	}
}

// Sub debits qty of symbol, removing the entry once it reaches zero.
// Callers check sufficiency first.
func (h Holdings) Sub(symbol string, qty decimal.Decimal) {
	h.Add(symbol, qty.Neg())
}

// Clone returns a copy that shares no state with h. A nil receiver yields an
// empty map.
func (h Holdings) Clone() Holdings {
	c := make(Holdings, len(h))
	for sym, q := range h {
		c[sym] = q
	}
	return c
}

// Normalize drops non-positive entries, typically after decoding stored data.
func (h Holdings) Normalize() Holdings {
	for sym, q := range h {
		if !q.IsPositive() {
			delete(h, sym)
		}
	}
	return h
}

// Symbols returns the held symbols in sorted order.
func (h Holdings) Symbols() []string {
	out := make([]string, 0, len(h))
	for sym := range h {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
