package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lunacc/exchange/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Postgres implements MarketStore and AccountStore on a PostgreSQL
// connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres initializes a new database connection pool
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection pool
func (p *Postgres) Close() {
	p.Pool.Close()
}

// Get retrieves the market record, inserting the default one if the row
// does not exist yet
func (p *Postgres) Get(ctx context.Context, symbol string) (*models.MarketRecord, error) {
	rec := &models.MarketRecord{}
	err := p.Pool.QueryRow(ctx,
		"SELECT symbol, name, current_price, last_updated FROM market WHERE symbol = $1",
		symbol).Scan(&rec.Symbol, &rec.Name, &rec.CurrentPrice, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		def := models.NewMarketRecord(time.Now().UTC())
		err = p.Pool.QueryRow(ctx,
			`INSERT INTO market (symbol, name, current_price, last_updated)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (symbol) DO UPDATE SET symbol = market.symbol
			 RETURNING symbol, name, current_price, last_updated`,
			def.Symbol, def.Name, def.CurrentPrice, def.LastUpdated).Scan(
			&rec.Symbol, &rec.Name, &rec.CurrentPrice, &rec.LastUpdated)
	}
	if err != nil {
		return nil, unavailable("failed to get market", err)
	}
	return rec, nil
}

// Put replaces the market record
func (p *Postgres) Put(ctx context.Context, record *models.MarketRecord) error {
	tag, err := p.Pool.Exec(ctx,
		"UPDATE market SET name = $2, current_price = $3, last_updated = $4 WHERE symbol = $1",
		record.Symbol, record.Name, record.CurrentPrice, record.LastUpdated)
	if err != nil {
		return unavailable("failed to put market", err)
	}
	if tag.RowsAffected() == 0 {
		return unavailable("failed to put market", errors.New("no row for symbol"))
	}
	return nil
}

// FindByUsername retrieves an account by username, case-insensitively
func (p *Postgres) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	acct := &models.Account{}
	var holdings []byte
	err := p.Pool.QueryRow(ctx,
		"SELECT id, username, balance, holdings, created_at FROM accounts WHERE LOWER(username) = LOWER($1)",
		username).Scan(&acct.ID, &acct.Username, &acct.Balance, &holdings, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("failed to get account", err)
	}
	if err := json.Unmarshal(holdings, &acct.Holdings); err != nil {
		return nil, unavailable("failed to decode holdings", err)
	}
	return acct, nil
}

// Insert creates a new account row. The unique index on LOWER(username)
// enforces case-insensitive uniqueness.
func (p *Postgres) Insert(ctx context.Context, account *models.Account) (*models.Account, error) {
	holdings, err := json.Marshal(account.Holdings)
	if err != nil {
		return nil, unavailable("failed to encode holdings", err)
	}

	created := &models.Account{Holdings: copyHoldings(account.Holdings)}
	err = p.Pool.QueryRow(ctx,
		`INSERT INTO accounts (username, balance, holdings, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, username, balance, created_at`,
		account.Username, account.Balance, holdings, account.CreatedAt).Scan(
		&created.ID, &created.Username, &created.Balance, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateUsername
		}
		return nil, unavailable("failed to create account", err)
	}
	return created, nil
}

// Update replaces an account's balance and holdings
func (p *Postgres) Update(ctx context.Context, account *models.Account) error {
	holdings, err := json.Marshal(account.Holdings)
	if err != nil {
		return unavailable("failed to encode holdings", err)
	}

	tag, err := p.Pool.Exec(ctx,
		"UPDATE accounts SET balance = $2, holdings = $3 WHERE LOWER(username) = LOWER($1)",
		account.Username, account.Balance, holdings)
	if err != nil {
		return unavailable("failed to update account", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func copyHoldings(h map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(h))
	for sym, qty := range h {
		out[sym] = qty
	}
	return out
}

// unavailable tags a driver failure so callers can branch on ErrUnavailable
// without losing the underlying cause.
func unavailable(msg string, err error) error {
	return fmt.Errorf("%s: %v: %w", msg, err, ErrUnavailable)
}
