package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/lunacc/exchange/internal/api"
	"github.com/lunacc/exchange/internal/config"
	"github.com/lunacc/exchange/internal/engine"
	"github.com/lunacc/exchange/internal/logging"
	"github.com/lunacc/exchange/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// broadcastMarket pushes the current market record to every connected
// websocket client.
func broadcastMarket(eng *engine.Engine, logger *zap.Logger) {
	market, err := eng.Market(context.Background())
	if err != nil {
		logger.Warn("failed to load market for broadcast", zap.Error(err))
		return
	}
	data, err := json.Marshal(market)
	if err != nil {
		logger.Warn("failed to marshal market", zap.Error(err))
		return
	}

	clientsMu.RLock()
	defer clientsMu.RUnlock()
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			logger.Info("dropping websocket client", zap.Error(err))
			go removeClient(client)
		}
	}
}

func removeClient(client *WSClient) {
	clientsMu.Lock()
	delete(clients, client)
	clientsMu.Unlock()
	client.conn.Close()
}

func handleWebSocket(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send the current price immediately on connect
		broadcastMarket(eng, logger)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				removeClient(client)
				break
			}
		}
	}
}

// impactPolicy builds the price-impact strategy from configuration.
func impactPolicy(cfg *config.Config, logger *zap.Logger) engine.ImpactPolicy {
	var step decimal.Decimal
	if cfg.ImpactStep != "" {
		var err error
		step, err = decimal.NewFromString(cfg.ImpactStep)
		if err != nil {
			logger.Fatal("invalid LUNACC_IMPACT_STEP", zap.String("value", cfg.ImpactStep), zap.Error(err))
		}
	}

	switch cfg.Impact {
	case "proportional":
		if step.IsZero() {
			step = decimal.RequireFromString("0.001")
		}
		return engine.ProportionalImpact{Factor: step}
	default:
		if step.IsZero() {
			return engine.DefaultImpact()
		}
		return engine.FlatImpact{Step: step}
	}
}

// Main entry point: sets up stores, engine, and HTTP server
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Pick the persistence backend
	var (
		markets  store.MarketStore
		accounts store.AccountStore
	)
	switch cfg.Store {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresConn)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		markets, accounts = pg, pg
	default:
		mem := store.NewMemory()
		markets, accounts = mem, mem
	}

	// Initialize trading engine and API handlers
	eng := engine.New(markets, accounts, impactPolicy(cfg, logger), logger)
	handler := api.NewHandler(eng, logger)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Serve static files
	r.Handle("/*", http.FileServer(http.Dir("frontend")))

	// WebSocket market ticker
	r.Get("/ws", handleWebSocket(eng, logger))

	// API endpoints
	r.Get("/api/status", handler.Status)
	r.Get("/api/market", handler.Market)
	r.Post("/api/register", handler.Register)
	r.Post("/api/buy", handler.Buy)
	r.Post("/api/sell", handler.Sell)
	r.Get("/api/portfolio/{username}", handler.Portfolio)

	// Start periodic market broadcast
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastMarket(eng, logger)
		}
	}()

	// Start server
	logger.Info("starting server", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
