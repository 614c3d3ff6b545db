package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/trade"
)

func TestEncode_TradeSettled(t *testing.T) {
	rc := trade.Receipt{
		ID:        "t-1",
		From:      "alice",
		To:        "bob",
		Class:     model.ClassStock,
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: decimal.NewFromInt(150),
		Total:     decimal.NewFromInt(300),
		SettledAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg, err := encode(FromReceipt(rc))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "t-1" {
		t.Errorf("expected key t-1, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "trade_settled" {
		t.Errorf("unexpected headers %+v", msg.Headers)
	}

	var got map[string]any
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got["from"] != "alice" || got["to"] != "bob" || got["asset_class"] != "stock" || got["total"] != "300" {
		t.Errorf("unexpected payload %s", msg.Value)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.PublishTradeSettled(context.Background(), TradeSettled{}); err != nil {
		t.Errorf("Nop publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Nop close: %v", err)
	}
}
