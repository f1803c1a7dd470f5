// Package ledger keeps the local record of per-instrument positions and the
// closed-trade history for one strategy.
//
// A Ledger must be driven by exactly one queue. Its lock only makes
// concurrent readers (admin API, metrics) memory-safe; it does not make a
// CanOpen followed by RecordOpen atomic across callers.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/google/uuid"
)

// Ledger is the PositionLedger for one strategy.
type Ledger struct {
	strategy string
	store    domain.LedgerStore
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.RWMutex
	positions     map[string]domain.Position
	trades        []domain.TradeRecord
	highWaterMark float64
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New loads the strategy's persisted positions and history from store.
func New(ctx context.Context, strategy string, store domain.LedgerStore, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		strategy:  strategy,
		store:     store,
		logger:    logger.With(slog.String("component", "ledger"), slog.String("strategy", strategy)),
		now:       func() time.Time { return time.Now().UTC() },
		positions: make(map[string]domain.Position),
	}
	for _, o := range opts {
		o(l)
	}

	positions, err := store.LoadPositions(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: load positions: %w", err)
	}
	trades, err := store.LoadTrades(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("ledger: load trades: %w", err)
	}
	for k, p := range positions {
		l.positions[k] = p
	}
	l.trades = trades

	l.logger.InfoContext(ctx, "ledger: loaded",
		slog.Int("active", l.activeCount()),
		slog.Int("trades", len(trades)),
	)
	return l, nil
}

// Strategy returns the owning strategy name.
func (l *Ledger) Strategy() string { return l.strategy }

// CanOpen reports whether a new position on instrument fits under
// maxPositions and instrument has no active position.
func (l *Ledger) CanOpen(instrument string, maxPositions int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.activeCount() >= maxPositions {
		return false
	}
	p, ok := l.positions[instrument]
	return !ok || !p.Active()
}

// ActiveCount returns the number of active positions.
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeCount()
}

func (l *Ledger) activeCount() int {
	n := 0
	for _, p := range l.positions {
		if p.Active() {
			n++
		}
	}
	return n
}

// RecordOpen creates a new active position with a single open fill. The
// position cap is the caller's responsibility.
func (l *Ledger) RecordOpen(ctx context.Context, instrument string, side domain.Side, price, quantity, margin float64) error {
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("ledger: record open %s: %w: price and quantity must be positive", instrument, domain.ErrInvalidOrder)
	}

	l.mu.Lock()
	if p, ok := l.positions[instrument]; ok && p.Active() {
		l.mu.Unlock()
		return fmt.Errorf("ledger: record open %s: %w", instrument, domain.ErrPositionExists)
	}
	now := l.now()
	l.positions[instrument] = domain.Position{
		Instrument: instrument,
		Status:     domain.PositionStatusActive,
		Side:       side,
		EntryPrice: price,
		Quantity:   quantity,
		Margin:     margin,
		TotalCost:  price * quantity,
		OpenTime:   now,
		AddCount:   1,
		Fills: []domain.Fill{{
			Action: domain.FillOpen, Price: price, Quantity: quantity, Margin: margin, Timestamp: now,
		}},
	}
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.String("instrument", instrument),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("quantity", quantity),
		slog.Float64("margin", margin),
	)
	l.persist(ctx, snapshot)
	return nil
}

// RecordAdd adds a fill to an active position and recomputes the weighted
// average entry price.
func (l *Ledger) RecordAdd(ctx context.Context, instrument string, price, quantity, margin float64) error {
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("ledger: record add %s: %w: price and quantity must be positive", instrument, domain.ErrInvalidOrder)
	}

	l.mu.Lock()
	p, ok := l.positions[instrument]
	if !ok || !p.Active() {
		l.mu.Unlock()
		return fmt.Errorf("ledger: record add %s: %w", instrument, domain.ErrNoActivePosition)
	}
	p = p.Clone()
	p.TotalCost += price * quantity
	p.Quantity += quantity
	p.Margin += margin
	p.EntryPrice = p.TotalCost / p.Quantity
	p.AddCount++
	p.Fills = append(p.Fills, domain.Fill{
		Action: domain.FillAdd, Price: price, Quantity: quantity, Margin: margin, Timestamp: l.now(),
	})
	l.positions[instrument] = p
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: position added",
		slog.String("instrument", instrument),
		slog.Float64("price", price),
		slog.Float64("quantity", quantity),
		slog.Float64("entry_price", p.EntryPrice),
		slog.Int("add_count", p.AddCount),
	)
	l.persist(ctx, snapshot)
	return nil
}

// RecordClose closes an active position and appends a trade record to the
// history. An empty reason is recorded as "manual".
func (l *Ledger) RecordClose(ctx context.Context, instrument string, exitPrice, pnl float64, reason string) (domain.TradeRecord, error) {
	if reason == "" {
		reason = "manual"
	}

	l.mu.Lock()
	p, ok := l.positions[instrument]
	if !ok || !p.Active() {
		l.mu.Unlock()
		return domain.TradeRecord{}, fmt.Errorf("ledger: record close %s: %w", instrument, domain.ErrNoActivePosition)
	}
	now := l.now()
	p = p.Clone()
	p.Status = domain.PositionStatusClosed
	p.CloseTime = &now
	p.ExitPrice = &exitPrice
	p.PnL = &pnl
	p.CloseReason = reason
	l.positions[instrument] = p

	rec := domain.TradeRecord{
		ID:          uuid.NewString(),
		Strategy:    l.strategy,
		Position:    p.Clone(),
		ExitPrice:   exitPrice,
		PnL:         pnl,
		CloseReason: reason,
		ClosedAt:    now,
	}
	l.trades = append(l.trades, rec)
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: position closed",
		slog.String("instrument", instrument),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl),
		slog.String("reason", reason),
	)
	l.persist(ctx, snapshot)
	if err := l.store.AppendTrade(ctx, l.strategy, rec); err != nil {
		l.logger.ErrorContext(ctx, "ledger: append trade failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
	return rec, nil
}

// RemovePosition deletes the record for instrument without writing history.
// It only exists to undo an optimistic RecordOpen whose exchange order
// failed.
func (l *Ledger) RemovePosition(ctx context.Context, instrument string) bool {
	l.mu.Lock()
	if _, ok := l.positions[instrument]; !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.positions, instrument)
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.WarnContext(ctx, "ledger: position removed", slog.String("instrument", instrument))
	l.persist(ctx, snapshot)
	return true
}

// CheckDrawdown raises the high-water-mark to equity if higher and reports
// whether drawdown from the mark is at least thresholdPct percent.
func (l *Ledger) CheckDrawdown(equity, thresholdPct float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.highWaterMark = math.Max(l.highWaterMark, equity)
	if l.highWaterMark <= 0 {
		return false
	}
	drawdown := (l.highWaterMark - equity) / l.highWaterMark * 100
	return drawdown >= thresholdPct
}

// HighWaterMark returns the highest equity seen by CheckDrawdown.
func (l *Ledger) HighWaterMark() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.highWaterMark
}

// Get returns a copy of the position for instrument, active or closed.
func (l *Ledger) Get(instrument string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[instrument]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// Active returns copies of all active positions ordered by instrument.
func (l *Ledger) Active() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Active() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// History returns the closed trade records, oldest first.
func (l *Ledger) History() []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.TradeRecord(nil), l.trades...)
}

// Stats summarises the ledger.
func (l *Ledger) Stats() domain.LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := domain.LedgerStats{
		ActivePositions: l.activeCount(),
		TotalTrades:     len(l.trades),
		HighWaterMark:   l.highWaterMark,
	}
	wins := 0
	for _, t := range l.trades {
		st.TotalPnL += t.PnL
		if t.PnL > 0 {
			wins++
		}
	}
	if len(l.trades) > 0 {
		st.WinRate = float64(wins) / float64(len(l.trades)) * 100
	}
	return st
}

func (l *Ledger) snapshotLocked() map[string]domain.Position {
	out := make(map[string]domain.Position, len(l.positions))
	for k, p := range l.positions {
		out[k] = p.Clone()
	}
	return out
}

// persist writes the positions document. Failures are logged; the in-memory
// ledger stays authoritative for the running process.
func (l *Ledger) persist(ctx context.Context, positions map[string]domain.Position) {
	if err := l.store.SavePositions(ctx, l.strategy, positions); err != nil {
		l.logger.ErrorContext(ctx, "ledger: save positions failed",
			slog.String("error", err.Error()),
		)
	}
}
