package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// RegimeSource exposes the detector's snapshots.
type RegimeSource interface {
	Cached() (domain.RegimeSnapshot, bool)
	Current(ctx context.Context) domain.RegimeSnapshot
}

// RegimeHandler serves the market regime endpoint.
type RegimeHandler struct {
	source RegimeSource
	logger *slog.Logger
}

// NewRegimeHandler creates a RegimeHandler.
func NewRegimeHandler(source RegimeSource, logger *slog.Logger) *RegimeHandler {
	return &RegimeHandler{source: source, logger: logHandler(logger, "regime")}
}

// Get returns the cached snapshot, or computes one when nothing has been
// sampled yet or refresh=true is passed.
// GET /api/regime
func (h *RegimeHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "true" {
		if snap, ok := h.source.Cached(); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	snap := h.source.Current(r.Context())
	if snap.Degraded {
		h.logger.WarnContext(r.Context(), "handler: serving degraded regime", slog.String("reason", snap.Reason))
	}
	writeJSON(w, http.StatusOK, snap)
}
