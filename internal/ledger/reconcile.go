package ledger

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/google/uuid"
)

// QuantityEpsilon is the base-unit difference below which local and
// exchange quantities are considered equal.
const QuantityEpsilon = 0.01

// ExternalCloseReason is recorded on positions the exchange no longer holds.
const ExternalCloseReason = "external closure detected"

// ReconcileReport lists what a reconciliation changed.
type ReconcileReport struct {
	Closed      []string                  `json:"closed"`
	Corrections []domain.Correction       `json:"corrections"`
	Untracked   []domain.ExchangePosition `json:"untracked"`
}

// Changed reports whether local state was modified.
func (r ReconcileReport) Changed() bool {
	return len(r.Closed) > 0 || len(r.Corrections) > 0
}

// Reconcile corrects local state from the exchange snapshot. Active local
// positions missing from the snapshot are closed, quantity drift beyond
// QuantityEpsilon is overwritten, and exchange-only positions are reported
// and logged but never imported.
func (l *Ledger) Reconcile(ctx context.Context, snapshot []domain.ExchangePosition) ReconcileReport {
	type key struct {
		instrument string
		side       domain.Side
	}
	remote := make(map[key]domain.ExchangePosition, len(snapshot))
	for _, ep := range snapshot {
		if ep.Quantity <= 0 {
			continue
		}
		k := key{ep.Instrument, ep.Side}
		if prev, ok := remote[k]; ok {
			ep.Quantity += prev.Quantity
		}
		remote[k] = ep
	}

	report := ReconcileReport{
		Closed:      []string{},
		Corrections: []domain.Correction{},
		Untracked:   []domain.ExchangePosition{},
	}

	l.mu.Lock()
	now := l.now()
	matched := make(map[key]bool, len(remote))
	for instrument, p := range l.positions {
		if !p.Active() {
			continue
		}
		k := key{instrument, p.Side}
		ep, ok := remote[k]
		if !ok {
			p = p.Clone()
			p.Status = domain.PositionStatusClosed
			p.CloseTime = &now
			p.CloseReason = ExternalCloseReason
			l.positions[instrument] = p
			report.Closed = append(report.Closed, instrument)
			continue
		}
		matched[k] = true

		if math.Abs(p.Quantity-ep.Quantity) <= QuantityEpsilon {
			continue
		}
		c := domain.Correction{
			ID:               uuid.NewString(),
			Instrument:       instrument,
			LocalQuantity:    p.Quantity,
			ExchangeQuantity: ep.Quantity,
			LocalEntry:       p.EntryPrice,
			ExchangeEntry:    ep.AvgPrice,
			At:               now,
		}
		p = p.Clone()
		p.Quantity = ep.Quantity
		if ep.AvgPrice > 0 {
			p.EntryPrice = ep.AvgPrice
		}
		p.TotalCost = p.EntryPrice * p.Quantity
		p.Corrections = append(p.Corrections, c)
		l.positions[instrument] = p
		report.Corrections = append(report.Corrections, c)
	}
	for k, ep := range remote {
		if !matched[k] {
			report.Untracked = append(report.Untracked, ep)
		}
	}
	var snap map[string]domain.Position
	if report.Changed() {
		snap = l.snapshotLocked()
	}
	l.mu.Unlock()

	sort.Strings(report.Closed)
	sort.Slice(report.Untracked, func(i, j int) bool {
		return report.Untracked[i].Instrument < report.Untracked[j].Instrument
	})

	for _, instrument := range report.Closed {
		l.logger.WarnContext(ctx, "ledger: reconcile closed position missing on exchange",
			slog.String("instrument", instrument),
		)
	}
	for _, c := range report.Corrections {
		l.logger.WarnContext(ctx, "ledger: reconcile corrected quantity",
			slog.String("instrument", c.Instrument),
			slog.Float64("local_quantity", c.LocalQuantity),
			slog.Float64("exchange_quantity", c.ExchangeQuantity),
			slog.Float64("exchange_entry", c.ExchangeEntry),
		)
	}
	for _, ep := range report.Untracked {
		l.logger.WarnContext(ctx, "ledger: exchange position not tracked locally",
			slog.String("instrument", ep.Instrument),
			slog.String("side", string(ep.Side)),
			slog.Float64("quantity", ep.Quantity),
		)
	}

	if snap != nil {
		l.persist(ctx, snap)
	}
	l.logger.InfoContext(ctx, "ledger: reconcile complete",
		slog.Int("closed", len(report.Closed)),
		slog.Int("corrected", len(report.Corrections)),
		slog.Int("untracked", len(report.Untracked)),
	)
	return report
}
