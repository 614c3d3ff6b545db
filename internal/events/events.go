// Package events publishes trade notifications to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/trade"
)

// TradeSettled is emitted after a trade commits.
type TradeSettled struct {
	TradeID   string          `json:"trade_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Class     string          `json:"asset_class"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	SettledAt time.Time       `json:"settled_at"`
}

// FromReceipt builds the event for a settled trade.
func FromReceipt(rc trade.Receipt) TradeSettled {
	return TradeSettled{
		TradeID:   rc.ID,
		From:      rc.From,
		To:        rc.To,
		Class:     string(rc.Class),
		Symbol:    rc.Symbol,
		Quantity:  rc.Quantity,
		UnitPrice: rc.UnitPrice,
		Total:     rc.Total,
		SettledAt: rc.SettledAt,
	}
}

type Publisher interface {
	PublishTradeSettled(ctx context.Context, ev TradeSettled) error
	Close() error
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishTradeSettled(context.Context, TradeSettled) error { return nil }
func (Nop) Close() error                                            { return nil }
