package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lunacc/exchange/internal/engine"
	"github.com/lunacc/exchange/internal/models"
	"github.com/lunacc/exchange/internal/store"
	"go.uber.org/zap"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine *engine.Engine
	Logger *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: eng, Logger: logger}
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}

	acct, err := h.Engine.Register(r.Context(), req.Username)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, acct)
}

// Buy handles a buy trade
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, engine.ActionBuy)
}

// Sell handles a sell trade
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, engine.ActionSell)
}

func (h *Handler) executeTrade(w http.ResponseWriter, r *http.Request, direction string) {
	var req models.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	req.Direction = direction

	var (
		result *models.TradeResult
		err    error
	)
	if req.Direction == engine.ActionBuy {
		result, err = h.Engine.Buy(r.Context(), req.Username, req.Quantity)
	} else {
		result, err = h.Engine.Sell(r.Context(), req.Username, req.Quantity)
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Portfolio returns an account's balance, holdings and total valuation
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	portfolio, err := h.Engine.Portfolio(r.Context(), username)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, portfolio)
}

// Market returns the current market record
func (h *Handler) Market(w http.ResponseWriter, r *http.Request) {
	market, err := h.Engine.Market(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// Status reports that the exchange is up and which market it runs
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "colonial exchange active",
		"market": models.InstrumentSymbol,
	})
}

// writeEngineError maps each engine error kind to a distinct status and
// stable code so callers can branch without parsing message text.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidUsername), errors.Is(err, engine.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, engine.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, engine.ErrInsufficientHoldings):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_holdings", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		h.Logger.Error("store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "persistence unavailable")
	default:
		h.Logger.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
