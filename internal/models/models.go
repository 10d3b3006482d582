package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// The exchange lists a single instrument.
const (
	InstrumentSymbol = "LUNA_CC"
	InstrumentName   = "Luna CC"
)

var (
	// DefaultPrice is the price a market record starts at when first created.
	DefaultPrice = decimal.RequireFromString("1.00")
	// StartingBalance is the cash every account receives on registration.
	StartingBalance = decimal.RequireFromString("100.00")
)

// MarketRecord is the current state of the instrument's market
type MarketRecord struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	LastUpdated  time.Time       `json:"last_update"`
}

// NewMarketRecord returns the default market record for the instrument
func NewMarketRecord(now time.Time) *MarketRecord {
	return &MarketRecord{
		Symbol:       InstrumentSymbol,
		Name:         InstrumentName,
		CurrentPrice: DefaultPrice,
		LastUpdated:  now,
	}
}

// Account represents a registered player
type Account struct {
	ID        int                        `json:"id"`
	Username  string                     `json:"username"`
	Balance   decimal.Decimal            `json:"balance"`
	Holdings  map[string]decimal.Decimal `json:"holdings"`
	CreatedAt time.Time                  `json:"created_at"`
}

// NewAccount returns a fresh account with the starting balance and an empty
// position in the instrument. The ID is assigned by the store on insert.
func NewAccount(username string, now time.Time) *Account {
	return &Account{
		Username:  username,
		Balance:   StartingBalance,
		Holdings:  map[string]decimal.Decimal{InstrumentSymbol: decimal.Zero},
		CreatedAt: now,
	}
}

// Holding returns the quantity of the given symbol the account owns.
func (a *Account) Holding(symbol string) decimal.Decimal {
	return a.Holdings[symbol]
}

// TradeRequest is a buy or sell intent
type TradeRequest struct {
	Username  string          `json:"username"`
	Quantity  decimal.Decimal `json:"quantity"`
	Direction string          `json:"direction"` // "buy" or "sell"
}

// TradeResult describes an executed trade
type TradeResult struct {
	Action     string          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	NewPrice   decimal.Decimal `json:"new_price"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Portfolio is a read-only valuation of an account
type Portfolio struct {
	Balance      decimal.Decimal            `json:"balance"`
	Holdings     map[string]decimal.Decimal `json:"holdings"`
	TotalAssets  decimal.Decimal            `json:"total_assets"`
	CurrentPrice decimal.Decimal            `json:"current_price"`
}
