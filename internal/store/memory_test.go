package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, s *MemoryStore, username string, balance float64, stocks model.Holdings) *model.Account {
	t.Helper()
	a := &model.Account{
		Username: username,
		Balance:  d(balance),
		Stocks:   stocks,
		Cryptos:  model.Holdings{},
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to seed account %s: %v", username, err)
	}
	return a
}

func TestMemoryStore_CreateAccountRejectsDuplicateUsername(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "alice", 5000, nil)

	err := s.CreateAccount(context.Background(), &model.Account{Username: "alice"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "alice", 5000, model.Holdings{"AAPL": d(1)})

	got, err := s.GetAccount(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	got.Stocks.Add("AAPL", d(10))
	got.Balance = d(0)

	again, _ := s.GetAccountByUsername(context.Background(), "alice")
	if !again.Stocks.Quantity("AAPL").Equal(d(1)) || !again.Balance.Equal(d(5000)) {
		t.Errorf("mutating a returned account changed stored state: %+v", again)
	}
}

func TestMemoryStore_UpdateAccountsTxAppliesAll(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "alice", 1000, model.Holdings{"AAPL": d(5)})
	b := seedAccount(t, s, "bob", 1000, nil)

	err := s.UpdateAccountsTx(context.Background(), []int64{a.ID, b.ID}, func(accts []*model.Account) error {
		accts[0].Stocks.Sub("AAPL", d(5))
		accts[1].Portfolio(model.ClassStock).Add("AAPL", d(5))
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAccountsTx: %v", err)
	}

	gotA, _ := s.GetAccount(context.Background(), a.ID)
	gotB, _ := s.GetAccount(context.Background(), b.ID)
	if _, ok := gotA.Stocks["AAPL"]; ok {
		t.Errorf("expected alice's AAPL entry removed, got %v", gotA.Stocks)
	}
	if !gotB.Stocks.Quantity("AAPL").Equal(d(5)) {
		t.Errorf("expected bob to hold 5 AAPL, got %s", gotB.Stocks.Quantity("AAPL"))
	}
}

func TestMemoryStore_UpdateAccountsTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "alice", 1000, model.Holdings{"AAPL": d(5)})
	b := seedAccount(t, s, "bob", 1000, nil)

	boom := errors.New("boom")
	err := s.UpdateAccountsTx(context.Background(), []int64{a.ID, b.ID}, func(accts []*model.Account) error {
		accts[0].Balance = d(0)
		accts[1].Balance = d(0)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	gotA, _ := s.GetAccount(context.Background(), a.ID)
	gotB, _ := s.GetAccount(context.Background(), b.ID)
	if !gotA.Balance.Equal(d(1000)) || !gotB.Balance.Equal(d(1000)) {
		t.Errorf("partial mutation visible after failed tx: alice=%s bob=%s", gotA.Balance, gotB.Balance)
	}
}

func TestMemoryStore_UpdateAccountsTxUnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "alice", 1000, nil)

	err := s.UpdateAccountsTx(context.Background(), []int64{a.ID, 999}, func([]*model.Account) error {
		t.Fatal("fn must not run when an account is missing")
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Tickets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	alice := seedAccount(t, s, "alice", 0, nil)
	bob := seedAccount(t, s, "bob", 0, nil)

	for _, tk := range []*model.Ticket{
		{AccountID: alice.ID, Status: model.TicketOpen, Message: "help"},
		{AccountID: bob.ID, Status: model.TicketOpen, Message: "price is wrong"},
	} {
		if err := s.CreateTicket(ctx, tk); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}

	mine, _ := s.ListTicketsByAccount(ctx, alice.ID)
	if len(mine) != 1 || mine[0].Message != "help" {
		t.Errorf("expected alice's single ticket, got %+v", mine)
	}

	all, _ := s.ListTickets(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(all))
	}
	if all[1].Username != "bob" {
		t.Errorf("expected username on admin listing, got %q", all[1].Username)
	}

	if err := s.CreateTicket(ctx, &model.Ticket{AccountID: 42}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
}

func TestMemoryStore_AssetPrices(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := &model.Asset{Class: model.ClassCrypto, Symbol: "BTC", Name: "Bitcoin", Price: d(30000)}
	if err := s.CreateAsset(ctx, a); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if err := s.CreateAsset(ctx, &model.Asset{Class: model.ClassCrypto, Symbol: "BTC"}); err == nil {
		t.Error("expected duplicate symbol to be rejected")
	}

	if err := s.UpdateAssetPrice(ctx, model.ClassCrypto, a.ID, d(31000)); err != nil {
		t.Fatalf("UpdateAssetPrice: %v", err)
	}
	cryptos, _ := s.ListAssets(ctx, model.ClassCrypto)
	if len(cryptos) != 1 || !cryptos[0].Price.Equal(d(31000)) {
		t.Errorf("expected updated BTC price, got %+v", cryptos)
	}
	stocks, _ := s.ListAssets(ctx, model.ClassStock)
	if len(stocks) != 0 {
		t.Errorf("expected no stocks, got %d", len(stocks))
	}
}

func TestHoldingsCodec(t *testing.T) {
	enc, err := encodeHoldings(model.Holdings{"AAPL": d(2), "BTC": d(0.5), "ZERO": decimal.Zero})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if enc != `{"AAPL":2,"BTC":0.5}` {
		t.Errorf("unexpected encoding %s", enc)
	}

	h, err := decodeHoldings(`{"AAPL":"3","DOGE":0,"ETH":1.25}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(h) != 2 || !h.Quantity("AAPL").Equal(d(3)) || !h.Quantity("ETH").Equal(d(1.25)) {
		t.Errorf("unexpected decoded holdings %v", h)
	}

	empty, err := decodeHoldings("")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil holdings, got %v (%v)", empty, err)
	}

	if _, err := decodeHoldings(`{"AAPL":`); err == nil {
		t.Error("expected error for malformed holdings")
	}
}
