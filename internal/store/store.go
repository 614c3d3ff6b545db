// Package store defines the persistence interface for the trading simulator.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrUsernameTaken is returned by CreateAccount for a duplicate username.
	ErrUsernameTaken = errors.New("store: username already taken")

	// ErrConflict is returned when an account transaction could not be
	// serialized against concurrent writers after retrying.
	ErrConflict = errors.New("store: concurrent modification")
)

// AccountTxFunc mutates the locked accounts in place. Returning an error
// aborts the transaction and nothing is written.
type AccountTxFunc func(accounts []*model.Account) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account and assigns its ID.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id int64) (*model.Account, error)

	// GetAccountByUsername retrieves an account by its unique username.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// UpdateAccount persists the full balance/holdings snapshot of a.
	UpdateAccount(ctx context.Context, a *model.Account) error

	// UpdateAccountsTx loads the accounts with the given distinct IDs under a
	// write lock, passes them to fn in the same order, and persists all of
	// them if fn succeeds. Either every account is written or none is.
	UpdateAccountsTx(ctx context.Context, ids []int64, fn AccountTxFunc) error

	// SetAdmin flips the admin flag of the named account.
	SetAdmin(ctx context.Context, username string, admin bool) error

	// --- Asset catalog ---

	// CreateAsset lists a new asset in its class and assigns its ID.
	CreateAsset(ctx context.Context, a *model.Asset) error

	// ListAssets returns every asset of the class ordered by ID.
	ListAssets(ctx context.Context, class model.AssetClass) ([]model.Asset, error)

	// UpdateAssetPrice sets the current price of one asset.
	UpdateAssetPrice(ctx context.Context, class model.AssetClass, id int64, price decimal.Decimal) error

	// --- Tickets ---

	// CreateTicket persists a new ticket and assigns its ID and timestamp.
	CreateTicket(ctx context.Context, t *model.Ticket) error

	// ListTicketsByAccount returns the tickets filed by one account.
	ListTicketsByAccount(ctx context.Context, accountID int64) ([]model.Ticket, error)

	// ListTickets returns every ticket with the filer's username.
	ListTickets(ctx context.Context) ([]model.Ticket, error)
}
