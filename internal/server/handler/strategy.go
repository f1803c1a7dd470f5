package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/service"
)

// Strategy is the read-only view of one running strategy.
type Strategy interface {
	Name() string
	Status() service.StrategyStatus
	Positions() []domain.Position
	Trades() []domain.TradeRecord
}

// StrategyHandler serves per-strategy ledger and queue state.
type StrategyHandler struct {
	byName map[string]Strategy
	order  []Strategy
	logger *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler over the given strategies.
func NewStrategyHandler(strategies []Strategy, logger *slog.Logger) *StrategyHandler {
	byName := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	return &StrategyHandler{
		byName: byName,
		order:  strategies,
		logger: logHandler(logger, "strategy"),
	}
}

type listStrategiesResponse struct {
	Strategies []service.StrategyStatus `json:"strategies"`
}

// List returns the status of every strategy.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]service.StrategyStatus, 0, len(h.order))
	for _, s := range h.order {
		out = append(out, s.Status())
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: out})
}

type positionsResponse struct {
	Strategy  string            `json:"strategy"`
	Positions []domain.Position `json:"positions"`
}

// Positions returns the active positions of one strategy.
// GET /api/strategies/{name}/positions
func (h *StrategyHandler) Positions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	positions := s.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Strategy: s.Name(), Positions: positions})
}

type tradesResponse struct {
	Strategy string               `json:"strategy"`
	Total    int                  `json:"total"`
	Trades   []domain.TradeRecord `json:"trades"`
}

// Trades returns a page of closed trades, newest first.
// GET /api/strategies/{name}/trades?limit=50&offset=0
func (h *StrategyHandler) Trades(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	history := s.Trades()
	newest := make([]domain.TradeRecord, len(history))
	for i, rec := range history {
		newest[len(history)-1-i] = rec
	}
	writeJSON(w, http.StatusOK, tradesResponse{
		Strategy: s.Name(),
		Total:    len(history),
		Trades:   page(newest, parseListOpts(r)),
	})
}

func (h *StrategyHandler) lookup(w http.ResponseWriter, r *http.Request) (Strategy, bool) {
	name := r.PathValue("name")
	s, ok := h.byName[name]
	if !ok {
		h.logger.DebugContext(r.Context(), "handler: unknown strategy", slog.String("strategy", name))
		writeError(w, http.StatusNotFound, "unknown strategy")
		return nil, false
	}
	return s, true
}
