package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lunacc/exchange/internal/models"
	"github.com/lunacc/exchange/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// pricePlaces is the number of decimal places the price is quantized to
	// after every mutation.
	pricePlaces = 6

	ActionBuy  = "buy"
	ActionSell = "sell"
)

// minPrice is the floor the price is clamped to on sells.
var minPrice = decimal.RequireFromString("0.01")

// Trade and registration failures. Matched with errors.Is; the HTTP layer
// maps each to a distinct status and code.
var (
	ErrInvalidUsername      = errors.New("username must be 3 to 50 characters")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Engine validates trades against the market and account stores and applies
// the price-impact rule. A single mutex serializes every read-modify-write
// so two concurrent trades can never both act on the same stale price or
// balance.
type Engine struct {
	markets  store.MarketStore
	accounts store.AccountStore
	impact   ImpactPolicy
	logger   *zap.Logger

	// Now is the clock used for CreatedAt/LastUpdated stamps. Tests swap it
	// for a fixed one.
	Now func() time.Time

	mu sync.Mutex
}

// New creates a trading engine on top of the given stores
func New(markets store.MarketStore, accounts store.AccountStore, impact ImpactPolicy, logger *zap.Logger) *Engine {
	if impact == nil {
		impact = DefaultImpact()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		markets:  markets,
		accounts: accounts,
		impact:   impact,
		logger:   logger,
		Now:      time.Now,
	}
}

// Register creates a new account with the starting balance and an empty
// position in the instrument
func (e *Engine) Register(ctx context.Context, username string) (*models.Account, error) {
	if len(username) < 3 || len(username) > 50 {
		return nil, ErrInvalidUsername
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	created, err := e.accounts.Insert(ctx, models.NewAccount(username, e.Now()))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to register %q: %w", username, err)
	}

	e.logger.Info("account registered",
		zap.Int("id", created.ID),
		zap.String("username", created.Username))
	return created, nil
}

// Buy purchases quantity units of the instrument at the current price
func (e *Engine) Buy(ctx context.Context, username string, quantity decimal.Decimal) (*models.TradeResult, error) {
	return e.trade(ctx, username, quantity, ActionBuy)
}

// Sell sells quantity units of the instrument at the current price
func (e *Engine) Sell(ctx context.Context, username string, quantity decimal.Decimal) (*models.TradeResult, error) {
	return e.trade(ctx, username, quantity, ActionSell)
}

// trade runs the whole validate-compute-persist sequence under the engine
// lock. The market is persisted before the account; a failure in between is
// surfaced unchanged and never retried here.
func (e *Engine) trade(ctx context.Context, username string, quantity decimal.Decimal, action string) (*models.TradeResult, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.markets.Get(ctx, models.InstrumentSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}

	acct, err := e.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account %q: %w", username, err)
	}

	notional := quantity.Mul(market.CurrentPrice)
	shift := e.impact.Shift(quantity)

	switch action {
	case ActionBuy:
		if acct.Balance.LessThan(notional) {
			return nil, ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(notional)
		acct.Holdings[market.Symbol] = acct.Holding(market.Symbol).Add(quantity)
		market.CurrentPrice = market.CurrentPrice.Add(shift).Round(pricePlaces)
	case ActionSell:
		if acct.Holding(market.Symbol).LessThan(quantity) {
			return nil, ErrInsufficientHoldings
		}
		acct.Holdings[market.Symbol] = acct.Holding(market.Symbol).Sub(quantity)
		acct.Balance = acct.Balance.Add(notional)
		market.CurrentPrice = market.CurrentPrice.Sub(shift).Round(pricePlaces)
		if market.CurrentPrice.LessThan(minPrice) {
			market.CurrentPrice = minPrice
		}
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	now := e.Now()
	market.LastUpdated = now

	if err := e.markets.Put(ctx, market); err != nil {
		return nil, fmt.Errorf("failed to persist market: %w", err)
	}
	if err := e.accounts.Update(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to persist account %q: %w", username, err)
	}

	e.logger.Info("trade executed",
		zap.String("action", action),
		zap.String("username", acct.Username),
		zap.String("quantity", quantity.String()),
		zap.String("new_price", market.CurrentPrice.String()))

	return &models.TradeResult{
		Action:     action,
		Quantity:   quantity,
		NewPrice:   market.CurrentPrice,
		NewBalance: acct.Balance,
		Timestamp:  now,
	}, nil
}

// Portfolio values an account at the current price. Pure read.
func (e *Engine) Portfolio(ctx context.Context, username string) (*models.Portfolio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.markets.Get(ctx, models.InstrumentSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}

	acct, err := e.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account %q: %w", username, err)
	}

	return &models.Portfolio{
		Balance:      acct.Balance,
		Holdings:     acct.Holdings,
		TotalAssets:  acct.Balance.Add(acct.Holding(market.Symbol).Mul(market.CurrentPrice)),
		CurrentPrice: market.CurrentPrice,
	}, nil
}

// Market returns the current market record
func (e *Engine) Market(ctx context.Context) (*models.MarketRecord, error) {
	market, err := e.markets.Get(ctx, models.InstrumentSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}
	return market, nil
}
