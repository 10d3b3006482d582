package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lunacc/exchange/internal/config"
	"github.com/lunacc/exchange/internal/models"
	"github.com/lunacc/exchange/internal/store"

	"github.com/joho/godotenv"
)

// Seed the database with the market row and two demo accounts
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, cfg.PostgresConn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	// Get creates the default market row if it is missing
	market, err := pg.Get(ctx, models.InstrumentSymbol)
	if err != nil {
		log.Fatalf("Failed to ensure market row: %v", err)
	}
	fmt.Printf("Market %s at %s\n", market.Symbol, market.CurrentPrice.String())

	for _, username := range []string{"nova", "orion"} {
		acct, err := pg.Insert(ctx, models.NewAccount(username, time.Now().UTC()))
		if errors.Is(err, store.ErrDuplicateUsername) {
			fmt.Printf("Account %s already exists\n", username)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to create account %s: %v", username, err)
		}
		fmt.Printf("Created account %s (id %d) with balance %s\n",
			acct.Username, acct.ID, acct.Balance.String())
	}
}
