// Package gate decides whether a new position may be opened.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Positions is the ledger view the gate reads.
type Positions interface {
	CanOpen(instrument string, maxPositions int) bool
	ActiveCount() int
	CheckDrawdown(equity, thresholdPct float64) bool
}

// RegimeSource returns the current (possibly cached) regime snapshot.
type RegimeSource interface {
	Current(ctx context.Context) domain.RegimeSnapshot
}

// EquitySource reports total account equity.
type EquitySource interface {
	AccountEquity(ctx context.Context) (float64, error)
}

// Decision is the gate's answer.
type Decision struct {
	CanOpen     bool                  `json:"can_open"`
	Reason      string                `json:"reason"`
	Regime      domain.RegimeSnapshot `json:"regime"`
	AdvisoryCap int                   `json:"advisory_cap"`
}

// Gate composes regime, ledger and equity checks into one decision.
type Gate struct {
	positions Positions
	regime    RegimeSource
	equity    EquitySource
	logger    *slog.Logger
}

// New creates a Gate.
func New(positions Positions, regime RegimeSource, equity EquitySource, logger *slog.Logger) *Gate {
	return &Gate{
		positions: positions,
		regime:    regime,
		equity:    equity,
		logger:    logger.With(slog.String("component", "gate")),
	}
}

// CheckCanOpen evaluates, in order, the position cap and the account
// drawdown, and returns the first failure. The regime snapshot is attached
// for context; its level does not change the cap.
func (g *Gate) CheckCanOpen(ctx context.Context, instrument string, side domain.Side, quantity float64, cfg Config) Decision {
	snap := g.regime.Current(ctx)
	d := Decision{Regime: snap, AdvisoryCap: cfg.LevelCaps.For(snap.Level)}

	log := g.logger.With(
		slog.String("instrument", instrument),
		slog.String("side", string(side)),
		slog.Float64("quantity", quantity),
		slog.Int("regime_level", int(snap.Level)),
	)

	if !g.positions.CanOpen(instrument, cfg.MaxPositions) {
		if active := g.positions.ActiveCount(); active >= cfg.MaxPositions {
			d.Reason = fmt.Sprintf("max positions reached (%d)", cfg.MaxPositions)
		} else {
			d.Reason = fmt.Sprintf("position already open on %s", instrument)
		}
		log.WarnContext(ctx, "gate: denied", slog.String("reason", d.Reason))
		return d
	}

	equity, err := g.equity.AccountEquity(ctx)
	if err != nil {
		d.Reason = "check failed: " + err.Error()
		log.WarnContext(ctx, "gate: equity lookup failed", slog.String("error", err.Error()))
		return d
	}
	if g.positions.CheckDrawdown(equity, cfg.DrawdownStopPct) {
		d.Reason = fmt.Sprintf("account drawdown at or beyond %.1f%%", cfg.DrawdownStopPct)
		log.WarnContext(ctx, "gate: denied",
			slog.String("reason", d.Reason),
			slog.Float64("equity", equity),
		)
		return d
	}

	if snap.Level > domain.RegimeNormal {
		log.InfoContext(ctx, "gate: admitted under elevated regime",
			slog.String("regime_reason", snap.Reason),
			slog.Int("advisory_cap", d.AdvisoryCap),
		)
	}
	d.CanOpen = true
	d.Reason = "all checks passed"
	return d
}
