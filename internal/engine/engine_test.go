package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lunacc/exchange/internal/models"
	"github.com/lunacc/exchange/internal/store"

	"github.com/shopspring/decimal"
)

var testTime = time.Date(2142, time.March, 7, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(impact ImpactPolicy) (*Engine, *store.Memory) {
	mem := store.NewMemory()
	mem.Now = func() time.Time { return testTime }
	eng := New(mem, mem, impact, nil)
	eng.Now = func() time.Time { return testTime }
	return eng, mem
}

func TestEngine_Register(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		wantErr  error
	}{
		{name: "Success", username: "nova", wantErr: nil},
		{name: "TooShort", username: "ab", wantErr: ErrInvalidUsername},
		{name: "TooLong", username: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", wantErr: ErrInvalidUsername},
		{name: "Duplicate", username: "nova", wantErr: ErrUsernameTaken},
		{name: "DuplicateDifferentCase", username: "NOVA", wantErr: ErrUsernameTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := eng.Register(ctx, tt.username)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register(%q) error = %v, want %v", tt.username, err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if acct.ID == 0 {
				t.Error("expected a non-zero account ID")
			}
			if !acct.Balance.Equal(dec("100.00")) {
				t.Errorf("starting balance = %s, want 100", acct.Balance)
			}
			if !acct.Holding(models.InstrumentSymbol).Equal(decimal.Zero) {
				t.Errorf("starting holdings = %s, want 0", acct.Holding(models.InstrumentSymbol))
			}
			if !acct.CreatedAt.Equal(testTime) {
				t.Errorf("CreatedAt = %v, want %v", acct.CreatedAt, testTime)
			}
		})
	}
}

func TestEngine_Buy(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		eng, _ := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Buy(ctx, "nova", dec("10"))
		if err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		if !result.NewBalance.Equal(dec("90.00")) {
			t.Errorf("new balance = %s, want 90.00", result.NewBalance)
		}
		if !result.NewPrice.Equal(dec("1.0005")) {
			t.Errorf("new price = %s, want 1.0005", result.NewPrice)
		}
		if result.Action != ActionBuy {
			t.Errorf("action = %q, want %q", result.Action, ActionBuy)
		}

		portfolio, err := eng.Portfolio(ctx, "nova")
		if err != nil {
			t.Fatal(err)
		}
		if !portfolio.Holdings[models.InstrumentSymbol].Equal(dec("10")) {
			t.Errorf("holdings = %s, want 10", portfolio.Holdings[models.InstrumentSymbol])
		}
	})

	t.Run("CaseInsensitiveLookup", func(t *testing.T) {
		eng, _ := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Buy(ctx, "NoVa", dec("1")); err != nil {
			t.Errorf("Buy with different case failed: %v", err)
		}
	})

	t.Run("Failures", func(t *testing.T) {
		eng, mem := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}
		// Raise the price so a large buy overruns the starting balance
		if err := mem.Put(ctx, &models.MarketRecord{
			Symbol:       models.InstrumentSymbol,
			Name:         models.InstrumentName,
			CurrentPrice: dec("50.00"),
			LastUpdated:  testTime,
		}); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name     string
			username string
			quantity decimal.Decimal
			wantErr  error
		}{
			{name: "UnknownAccount", username: "ghost", quantity: dec("1"), wantErr: ErrAccountNotFound},
			{name: "ZeroQuantity", username: "nova", quantity: decimal.Zero, wantErr: ErrInvalidQuantity},
			{name: "NegativeQuantity", username: "nova", quantity: dec("-1"), wantErr: ErrInvalidQuantity},
			{name: "InsufficientFunds", username: "nova", quantity: dec("3"), wantErr: ErrInsufficientFunds},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := eng.Buy(ctx, tt.username, tt.quantity)
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Buy error = %v, want %v", err, tt.wantErr)
				}
			})
		}

		// Failed buys must leave state untouched
		market, err := eng.Market(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !market.CurrentPrice.Equal(dec("50.00")) {
			t.Errorf("price moved to %s after failed buys", market.CurrentPrice)
		}
		portfolio, err := eng.Portfolio(ctx, "nova")
		if err != nil {
			t.Fatal(err)
		}
		if !portfolio.Balance.Equal(dec("100.00")) {
			t.Errorf("balance moved to %s after failed buys", portfolio.Balance)
		}
		if !portfolio.Holdings[models.InstrumentSymbol].Equal(decimal.Zero) {
			t.Errorf("holdings moved to %s after failed buys", portfolio.Holdings[models.InstrumentSymbol])
		}
	})
}

func TestEngine_Sell(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		eng, _ := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Buy(ctx, "nova", dec("10")); err != nil {
			t.Fatal(err)
		}

		// Price is 1.0005 after the buy; selling 5 yields 5.0025
		result, err := eng.Sell(ctx, "nova", dec("5"))
		if err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
		if !result.NewBalance.Equal(dec("95.0025")) {
			t.Errorf("new balance = %s, want 95.0025", result.NewBalance)
		}
		if !result.NewPrice.Equal(dec("1.00")) {
			t.Errorf("new price = %s, want 1.00", result.NewPrice)
		}

		portfolio, err := eng.Portfolio(ctx, "nova")
		if err != nil {
			t.Fatal(err)
		}
		if !portfolio.Holdings[models.InstrumentSymbol].Equal(dec("5")) {
			t.Errorf("holdings = %s, want 5", portfolio.Holdings[models.InstrumentSymbol])
		}
	})

	t.Run("InsufficientHoldings", func(t *testing.T) {
		eng, _ := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}

		_, err := eng.Sell(ctx, "nova", dec("1"))
		if !errors.Is(err, ErrInsufficientHoldings) {
			t.Fatalf("Sell error = %v, want %v", err, ErrInsufficientHoldings)
		}

		market, err := eng.Market(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !market.CurrentPrice.Equal(dec("1.00")) {
			t.Errorf("price moved to %s after failed sell", market.CurrentPrice)
		}
	})

	t.Run("PriceFloor", func(t *testing.T) {
		eng, mem := newTestEngine(nil)
		if _, err := eng.Register(ctx, "nova"); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Buy(ctx, "nova", dec("1")); err != nil {
			t.Fatal(err)
		}
		if err := mem.Put(ctx, &models.MarketRecord{
			Symbol:       models.InstrumentSymbol,
			Name:         models.InstrumentName,
			CurrentPrice: dec("0.01"),
			LastUpdated:  testTime,
		}); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Sell(ctx, "nova", dec("1"))
		if err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
		if !result.NewPrice.Equal(dec("0.01")) {
			t.Errorf("price = %s, want floor 0.01", result.NewPrice)
		}
	})
}

func TestEngine_ProportionalImpact(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(ProportionalImpact{Factor: dec("0.001")})
	if _, err := eng.Register(ctx, "nova"); err != nil {
		t.Fatal(err)
	}

	result, err := eng.Buy(ctx, "nova", dec("10"))
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if !result.NewPrice.Equal(dec("1.01")) {
		t.Errorf("new price = %s, want 1.01", result.NewPrice)
	}
}

func TestEngine_Portfolio(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(nil)
	if _, err := eng.Register(ctx, "nova"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Buy(ctx, "nova", dec("10")); err != nil {
		t.Fatal(err)
	}

	portfolio, err := eng.Portfolio(ctx, "nova")
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	// balance 90 + 10 * 1.0005
	if !portfolio.TotalAssets.Equal(dec("100.005")) {
		t.Errorf("total assets = %s, want 100.005", portfolio.TotalAssets)
	}
	if !portfolio.CurrentPrice.Equal(dec("1.0005")) {
		t.Errorf("current price = %s, want 1.0005", portfolio.CurrentPrice)
	}

	if _, err := eng.Portfolio(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Portfolio(ghost) error = %v, want %v", err, ErrAccountNotFound)
	}
}

// Two concurrent buys whose combined cost exceeds the balance must not both
// succeed.
func TestEngine_ConcurrentBuys(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(nil)
	if _, err := eng.Register(ctx, "nova"); err != nil {
		t.Fatal(err)
	}
	if err := mem.Put(ctx, &models.MarketRecord{
		Symbol:       models.InstrumentSymbol,
		Name:         models.InstrumentName,
		CurrentPrice: dec("50.00"),
		LastUpdated:  testTime,
	}); err != nil {
		t.Fatal(err)
	}

	// Each buy costs 75 against a balance of 100
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = eng.Buy(ctx, "nova", dec("1.5"))
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("got %d successes and %d rejections, want exactly 1 of each", succeeded, rejected)
	}

	portfolio, err := eng.Portfolio(ctx, "nova")
	if err != nil {
		t.Fatal(err)
	}
	if !portfolio.Balance.Equal(dec("25.00")) {
		t.Errorf("balance = %s, want 25.00", portfolio.Balance)
	}
	if !portfolio.Holdings[models.InstrumentSymbol].Equal(dec("1.5")) {
		t.Errorf("holdings = %s, want 1.5", portfolio.Holdings[models.InstrumentSymbol])
	}
}
