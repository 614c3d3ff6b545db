package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// UpdateAccountsTx always reads from the primary so the ledger never settles
// against a cached snapshot.
//
// Every account write bumps a per-account generation counter after it
// commits. A cache fill WATCHes that counter across its primary read, so a
// snapshot read before a concurrent commit is never stored after it.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cachedAccount carries the fields the public JSON form of Account hides.
type cachedAccount struct {
	model.Account
	PasswordHash string `json:"password_hash"`
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Set(ctx, usernameKey(a.Username), strconv.FormatInt(a.ID, 10), s.ttl)
	return nil
}

func (s *CachedStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.UpdateAccount(ctx, a); err != nil {
		return err
	}
	s.InvalidateAccounts(ctx, a.ID)
	return nil
}

func (s *CachedStore) UpdateAccountsTx(ctx context.Context, ids []int64, fn AccountTxFunc) error {
	if err := s.primary.UpdateAccountsTx(ctx, ids, fn); err != nil {
		return err
	}
	s.InvalidateAccounts(ctx, ids...)
	return nil
}

func (s *CachedStore) SetAdmin(ctx context.Context, username string, admin bool) error {
	if err := s.primary.SetAdmin(ctx, username, admin); err != nil {
		return err
	}
	a, err := s.primary.GetAccountByUsername(ctx, username)
	if err != nil {
		return err
	}
	s.InvalidateAccounts(ctx, a.ID)
	return nil
}

// InvalidateAccounts drops the cached snapshots of ids and bumps their
// generations so in-flight cache fills are discarded. Callers that write to
// the primary store directly use it after committing.
func (s *CachedStore) InvalidateAccounts(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Incr(ctx, generationKey(id))
			p.Del(ctx, accountKey(id))
		}
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "ids", ids, "err", err)
	}
}

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetsKey(a.Class))
	return nil
}

func (s *CachedStore) UpdateAssetPrice(ctx context.Context, class model.AssetClass, id int64, price decimal.Decimal) error {
	if err := s.primary.UpdateAssetPrice(ctx, class, id, price); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetsKey(class))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var c cachedAccount
		if json.Unmarshal(data, &c) == nil {
			c.Account.PasswordHash = c.PasswordHash
			return &c.Account, nil
		}
	}

	return s.loadAccount(ctx, id)
}

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	// Usernames never change, so the username→ID mapping needs no invalidation.
	if id, err := s.rdb.Get(ctx, usernameKey(username)).Int64(); err == nil {
		return s.GetAccount(ctx, id)
	}

	a, err := s.primary.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, usernameKey(a.Username), strconv.FormatInt(a.ID, 10), s.ttl)
	return s.loadAccount(ctx, a.ID)
}

func (s *CachedStore) ListAssets(ctx context.Context, class model.AssetClass) ([]model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetsKey(class)).Bytes()
	if err == nil {
		var assets []model.Asset
		if json.Unmarshal(data, &assets) == nil {
			return assets, nil
		}
	}

	assets, err := s.primary.ListAssets(ctx, class)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(assets); err == nil {
		s.rdb.Set(ctx, assetsKey(class), data, s.ttl)
	}
	return assets, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	return s.primary.CreateTicket(ctx, t)
}

func (s *CachedStore) ListTicketsByAccount(ctx context.Context, accountID int64) ([]model.Ticket, error) {
	return s.primary.ListTicketsByAccount(ctx, accountID)
}

func (s *CachedStore) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	return s.primary.ListTickets(ctx)
}

// --- Cache helpers ---

// loadAccount reads id from the primary store and caches the snapshot unless
// the account's generation moved during the read. Redis failures only cost
// the cache fill.
func (s *CachedStore) loadAccount(ctx context.Context, id int64) (*model.Account, error) {
	var (
		a       *model.Account
		loadErr error
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		a, loadErr = s.primary.GetAccount(ctx, id)
		if loadErr != nil {
			return loadErr
		}
		data, err := json.Marshal(cachedAccount{Account: *a, PasswordHash: a.PasswordHash})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, accountKey(a.ID), data, s.ttl)
			return nil
		})
		return err
	}, generationKey(id))

	switch {
	case loadErr != nil:
		return nil, loadErr
	case a != nil:
		return a, nil
	default:
		// WATCH itself failed, so the primary was never consulted.
		if err != nil {
			slog.Debug("account cache unavailable", "id", id, "err", err)
		}
		return s.primary.GetAccount(ctx, id)
	}
}

func accountKey(id int64) string              { return fmt.Sprintf("account:%d", id) }
func generationKey(id int64) string           { return fmt.Sprintf("account:%d:gen", id) }
func usernameKey(name string) string          { return fmt.Sprintf("username:%s", name) }
func assetsKey(class model.AssetClass) string { return fmt.Sprintf("assets:%s", class) }

var _ Store = (*CachedStore)(nil)
