package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tradesim/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are NUMERIC; holdings are JSONB objects of numbers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens and pings a tuned connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

const accountColumns = `id, username, password_hash, email, balance::TEXT, stocks::TEXT, cryptos::TEXT, admin, created_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	stocks, err := encodeHoldings(a.Stocks)
	if err != nil {
		return err
	}
	cryptos, err := encodeHoldings(a.Cryptos)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, email, balance, stocks, cryptos, admin)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::JSONB, $6::JSONB, $7)
		 RETURNING id, created_at`,
		a.Username, a.PasswordHash, a.Email, a.Balance.String(), stocks, cryptos, a.IsAdmin,
	).Scan(&a.ID, &a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
	}
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.Username, err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE username = $1`, username)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", username, err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	return writeAccount(ctx, s.pool, a)
}

// UpdateAccountsTx locks the rows in ascending id order inside a
// SERIALIZABLE transaction. Serialization failures are retried with
// exponential backoff before giving up with ErrConflict.
func (s *PostgresStore) UpdateAccountsTx(ctx context.Context, ids []int64, fn AccountTxFunc) error {
	const maxAttempts = 5
	retryDelay := 25 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.accountsTx(ctx, ids, fn)
		if err == nil || !isSerializationError(err) {
			return err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return ErrConflict
}

func (s *PostgresStore) accountsTx(ctx context.Context, ids []int64, fn AccountTxFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin account tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	byID := make(map[int64]*model.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return err
		}
		byID[a.ID] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	accounts := make([]*model.Account, len(ids))
	for i, id := range ids {
		a, ok := byID[id]
		if !ok {
			return fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		accounts[i] = a
	}

	if err := fn(accounts); err != nil {
		return err
	}

	for _, a := range accounts {
		if err := writeAccount(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SetAdmin(ctx context.Context, username string, admin bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET admin = $2 WHERE username = $1`, username, admin)
	if err != nil {
		return fmt.Errorf("set admin %q: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	table, err := assetTable(a.Class)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (symbol, name, price, description)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 RETURNING id`,
		a.Symbol, a.Name, a.Price.String(), a.Description,
	).Scan(&a.ID)
}

func (s *PostgresStore) ListAssets(ctx context.Context, class model.AssetClass) ([]model.Asset, error) {
	table, err := assetTable(class)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, price::TEXT, description FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []model.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows, class)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) UpdateAssetPrice(ctx context.Context, class model.AssetClass, id int64, price decimal.Decimal) error {
	table, err := assetTable(class)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE `+table+` SET price = $2::NUMERIC WHERE id = $1`, id, price.String())
	return err
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tickets (user_id, status, message)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		t.AccountID, t.Status, t.Message,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTicketsByAccount(ctx context.Context, accountID int64) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.user_id, u.username, t.status, t.message, t.created_at
		 FROM tickets t JOIN users u ON u.id = t.user_id
		 WHERE t.user_id = $1 ORDER BY t.id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTickets(rows)
}

func (s *PostgresStore) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.user_id, u.username, t.status, t.message, t.created_at
		 FROM tickets t JOIN users u ON u.id = t.user_id
		 ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTickets(rows)
}

// --- helpers ---

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func writeAccount(ctx context.Context, db execer, a *model.Account) error {
	stocks, err := encodeHoldings(a.Stocks)
	if err != nil {
		return err
	}
	cryptos, err := encodeHoldings(a.Cryptos)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx,
		`UPDATE users
		 SET balance = $2::NUMERIC, stocks = $3::JSONB, cryptos = $4::JSONB
		 WHERE id = $1`,
		a.ID, a.Balance.String(), stocks, cryptos,
	)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balance, stocks, cryptos string

	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Email,
		&balance, &stocks, &cryptos, &a.IsAdmin, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("account %d balance: %w", a.ID, err)
	}
	if a.Stocks, err = decodeHoldings(stocks); err != nil {
		return nil, fmt.Errorf("account %d stocks: %w", a.ID, err)
	}
	if a.Cryptos, err = decodeHoldings(cryptos); err != nil {
		return nil, fmt.Errorf("account %d cryptos: %w", a.ID, err)
	}
	return &a, nil
}

func scanAsset(row pgx.Row, class model.AssetClass) (model.Asset, error) {
	a := model.Asset{Class: class}
	var price string
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &price, &a.Description); err != nil {
		return model.Asset{}, err
	}
	var err error
	if a.Price, err = decimal.NewFromString(price); err != nil {
		return model.Asset{}, fmt.Errorf("%s %s price: %w", class, a.Symbol, err)
	}
	return a, nil
}

func scanTickets(rows pgx.Rows) ([]model.Ticket, error) {
	tickets := []model.Ticket{}
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Username, &t.Status, &t.Message, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// assetTable maps a class to its table; class names never reach SQL text
// unvalidated.
func assetTable(class model.AssetClass) (string, error) {
	switch class {
	case model.ClassStock:
		return "stocks", nil
	case model.ClassCrypto:
		return "cryptos", nil
	}
	return "", fmt.Errorf("%w: %q", model.ErrUnknownAssetClass, class)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Store = (*PostgresStore)(nil)
