package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

// encodeHoldings renders holdings as a JSON object of plain numbers,
// e.g. {"AAPL":2,"BTC":0.5}.
func encodeHoldings(h model.Holdings) (string, error) {
	raw := make(map[string]json.Number, len(h))
	for sym, q := range h {
		if !q.IsPositive() {
			continue
		}
		raw[sym] = json.Number(q.String())
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode holdings: %w", err)
	}
	return string(data), nil
}

// decodeHoldings parses the stored form. Empty input means no holdings;
// quoted decimal strings are accepted as well as numbers.
func decodeHoldings(s string) (model.Holdings, error) {
	if s == "" || s == "null" {
		return model.Holdings{}, nil
	}
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	return model.Holdings(raw).Normalize(), nil
}
