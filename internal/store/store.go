package store

import (
	"context"
	"errors"

	"github.com/lunacc/exchange/internal/models"
)

// Store failures the trading engine branches on. Implementations wrap these
// with detail; callers match with errors.Is.
var (
	// ErrNotFound means no account exists for the given username.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateUsername means an account with that username (in any case)
	// already exists.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrUnavailable means the backing store could not be reached or the
	// operation failed for a reason unrelated to the data itself.
	ErrUnavailable = errors.New("store unavailable")
)

// MarketStore holds the market record for the single instrument.
// Get creates the default record if none exists yet.
type MarketStore interface {
	Get(ctx context.Context, symbol string) (*models.MarketRecord, error)
	Put(ctx context.Context, record *models.MarketRecord) error
}

// AccountStore holds the registered accounts. Username lookup is
// case-insensitive.
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	Insert(ctx context.Context, account *models.Account) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
}
