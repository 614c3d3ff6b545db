package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/marketsim/tradesim/internal/model"
)

func newCachedEnv(t *testing.T, primary Store) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedStore(primary, rdb, time.Minute), mr
}

// racingStore runs beforeReturn once, after the primary read and before the
// snapshot reaches the cache.
type racingStore struct {
	*MemoryStore
	beforeReturn func()
}

func (s *racingStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := s.MemoryStore.GetAccount(ctx, id)
	if hook := s.beforeReturn; hook != nil {
		s.beforeReturn = nil
		hook()
	}
	return a, err
}

func TestCachedStore_ServesSnapshotUntilWrite(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	a := seedAccount(t, primary, "alice", 1000, nil)
	cs, mr := newCachedEnv(t, primary)

	if _, err := cs.GetAccount(ctx, a.ID); err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !mr.Exists(accountKey(a.ID)) {
		t.Fatal("expected account to be cached")
	}

	// A write that bypasses the cache is not visible until the TTL or an invalidation.
	bypass := a.Clone()
	bypass.Balance = d(1)
	if err := primary.UpdateAccount(ctx, bypass); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	got, err := cs.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Balance.Equal(d(1000)) {
		t.Errorf("expected cached balance 1000, got %s", got.Balance)
	}
	if got.PasswordHash != a.PasswordHash || got.Username != "alice" {
		t.Errorf("cached snapshot lost fields: %+v", got)
	}

	err = cs.UpdateAccountsTx(ctx, []int64{a.ID}, func(accts []*model.Account) error {
		accts[0].Balance = d(50)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAccountsTx: %v", err)
	}
	got, _ = cs.GetAccount(ctx, a.ID)
	if !got.Balance.Equal(d(50)) {
		t.Errorf("expected balance 50 after write, got %s", got.Balance)
	}
}

func TestCachedStore_FillRacingACommitIsDiscarded(t *testing.T) {
	ctx := context.Background()
	primary := &racingStore{MemoryStore: NewMemoryStore()}
	a := seedAccount(t, primary.MemoryStore, "alice", 1000, nil)
	cs, mr := newCachedEnv(t, primary)

	primary.beforeReturn = func() {
		err := cs.UpdateAccountsTx(ctx, []int64{a.ID}, func(accts []*model.Account) error {
			accts[0].Balance = d(2000)
			return nil
		})
		if err != nil {
			t.Errorf("UpdateAccountsTx: %v", err)
		}
	}

	stale, err := cs.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !stale.Balance.Equal(d(1000)) {
		t.Fatalf("expected the read to predate the commit, got %s", stale.Balance)
	}
	if mr.Exists(accountKey(a.ID)) {
		t.Error("snapshot read before the commit was cached")
	}

	got, _ := cs.GetAccount(ctx, a.ID)
	if !got.Balance.Equal(d(2000)) {
		t.Errorf("expected committed balance 2000, got %s", got.Balance)
	}
}

func TestCachedStore_SetAdminInvalidates(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	a := seedAccount(t, primary, "alice", 0, nil)
	cs, _ := newCachedEnv(t, primary)

	if got, _ := cs.GetAccountByUsername(ctx, "alice"); got == nil || got.IsAdmin {
		t.Fatalf("expected non-admin alice, got %+v", got)
	}
	if err := cs.SetAdmin(ctx, "alice", true); err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	got, err := cs.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.IsAdmin {
		t.Error("expected admin flag after SetAdmin")
	}
}

func TestCachedStore_AssetListInvalidatedOnPriceChange(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	cs, _ := newCachedEnv(t, primary)

	asset := &model.Asset{Class: model.ClassStock, Symbol: "AAPL", Name: "Apple", Price: d(150)}
	if err := cs.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if _, err := cs.ListAssets(ctx, model.ClassStock); err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if err := cs.UpdateAssetPrice(ctx, model.ClassStock, asset.ID, d(151)); err != nil {
		t.Fatalf("UpdateAssetPrice: %v", err)
	}
	assets, err := cs.ListAssets(ctx, model.ClassStock)
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(assets) != 1 || !assets[0].Price.Equal(d(151)) {
		t.Errorf("expected fresh price 151, got %+v", assets)
	}
}

func TestCachedStore_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	a := seedAccount(t, primary, "alice", 1000, nil)
	cs, mr := newCachedEnv(t, primary)
	mr.Close()

	got, err := cs.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Balance.Equal(d(1000)) {
		t.Errorf("expected balance 1000, got %s", got.Balance)
	}
	if _, err := cs.GetAccountByUsername(ctx, "alice"); err != nil {
		t.Fatalf("GetAccountByUsername: %v", err)
	}
}
