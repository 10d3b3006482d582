package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lunacc/exchange/internal/models"
	"github.com/shopspring/decimal"
)

// Memory implements MarketStore and AccountStore with in-process maps.
// Used for tests and for running the server without Postgres.
type Memory struct {
	mu       sync.RWMutex
	market   *models.MarketRecord
	accounts map[string]*models.Account // keyed by lowercased username
	nextID   int

	// Now is the clock used to stamp a market record created on first Get.
	Now func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*models.Account),
		nextID:   1,
		Now:      time.Now,
	}
}

// Get returns the market record, creating the default one on first access
func (m *Memory) Get(ctx context.Context, symbol string) (*models.MarketRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.market == nil {
		m.market = models.NewMarketRecord(m.Now())
	}
	rec := *m.market
	return &rec, nil
}

// Put replaces the market record
func (m *Memory) Put(ctx context.Context, record *models.MarketRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := *record
	m.market = &rec
	return nil
}

// FindByUsername looks up an account, folding case
func (m *Memory) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(acct), nil
}

// Insert adds a new account and assigns its ID. Fails with
// ErrDuplicateUsername if the username is taken in any case.
func (m *Memory) Insert(ctx context.Context, account *models.Account) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(account.Username)
	if _, ok := m.accounts[key]; ok {
		return nil, ErrDuplicateUsername
	}

	acct := cloneAccount(account)
	acct.ID = m.nextID
	m.nextID++
	m.accounts[key] = acct
	return cloneAccount(acct), nil
}

// Update replaces an existing account
func (m *Memory) Update(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(account.Username)
	if _, ok := m.accounts[key]; !ok {
		return ErrNotFound
	}
	m.accounts[key] = cloneAccount(account)
	return nil
}

// cloneAccount copies an account so callers cannot mutate stored state
// through the shared holdings map.
func cloneAccount(a *models.Account) *models.Account {
	holdings := make(map[string]decimal.Decimal, len(a.Holdings))
	for sym, qty := range a.Holdings {
		holdings[sym] = qty
	}
	acct := *a
	acct.Holdings = holdings
	return &acct
}
