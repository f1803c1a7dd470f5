// Package service drives trade intents through admission, the exchange and
// the ledger, and fans the outcomes out to the event bus, audit log,
// notifier and metrics.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/ledger"
)

// Bus channels and streams.
const (
	ChannelDecisions = "riskgate:decisions"
	ChannelRegime    = "riskgate:regime"
	StreamDecisions  = "riskgate:decisions:log"
	StreamIntents    = "riskgate:intents"
)

// Recorder receives metric updates. Implemented by metrics.Metrics.
type Recorder interface {
	Decision(d domain.Decision)
	Regime(snap domain.RegimeSnapshot)
	ActivePositions(strategy string, n int)
	Reconciled(strategy string, closed, corrected, untracked int)
}

// Events fans outcomes out to the optional sinks. Every sink may be nil;
// sink failures are logged and never change a decision.
type Events struct {
	Bus      domain.SignalBus
	Regimes  domain.RegimeCache
	Audit    domain.AuditStore
	Notifier domain.Notifier
	Metrics  Recorder
	Logger   *slog.Logger
}

func (e *Events) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Decision reports one settled intent.
func (e *Events) Decision(ctx context.Context, d domain.Decision) {
	log := e.logger()
	attrs := []any{
		slog.String("strategy", d.Strategy),
		slog.String("intent_id", d.IntentID),
		slog.String("instrument", d.Instrument),
		slog.String("action", string(d.Action)),
		slog.String("status", string(d.Status)),
		slog.String("reason", d.Reason),
	}
	switch d.Status {
	case domain.DecisionSuccess:
		log.InfoContext(ctx, "service: intent executed", attrs...)
	case domain.DecisionError:
		log.ErrorContext(ctx, "service: intent failed", attrs...)
	default:
		log.WarnContext(ctx, "service: intent not executed", attrs...)
	}

	if e.Metrics != nil {
		e.Metrics.Decision(d)
	}

	if e.Bus != nil {
		if payload, err := json.Marshal(d); err == nil {
			if err := e.Bus.Publish(ctx, ChannelDecisions, payload); err != nil {
				log.WarnContext(ctx, "service: publish decision failed", slog.String("error", err.Error()))
			}
			if err := e.Bus.StreamAppend(ctx, StreamDecisions, payload); err != nil {
				log.WarnContext(ctx, "service: append decision failed", slog.String("error", err.Error()))
			}
		}
	}

	e.audit(ctx, "decision", map[string]any{
		"strategy":   d.Strategy,
		"intent_id":  d.IntentID,
		"instrument": d.Instrument,
		"action":     d.Action,
		"side":       d.Side,
		"quantity":   d.Quantity,
		"status":     d.Status,
		"reason":     d.Reason,
		"order_id":   d.OrderID,
	})

	if event, title, ok := decisionAlert(d); ok {
		e.notify(ctx, event, title, d.Reason)
	}
}

// decisionAlert picks the notification for a decision. Rejections and
// skips are not alerted.
func decisionAlert(d domain.Decision) (event, title string, ok bool) {
	switch {
	case d.Status == domain.DecisionError:
		return domain.EventOrderFailed, fmt.Sprintf("%s: %s %s failed", d.Strategy, d.Action, d.Instrument), true
	case d.Status == domain.DecisionSuccess && d.Action == domain.IntentClose:
		return domain.EventOrderClosed, fmt.Sprintf("%s: closed %s %s @ %g", d.Strategy, d.Side, d.Instrument, d.Price), true
	case d.Status == domain.DecisionSuccess:
		return domain.EventOrderOpened, fmt.Sprintf("%s: %s %s %g @ %g", d.Strategy, d.Side, d.Instrument, d.Quantity, d.Price), true
	}
	return "", "", false
}

// Regime reports a fresh snapshot. changed marks a level transition, which
// is also alerted.
func (e *Events) Regime(ctx context.Context, snap domain.RegimeSnapshot, changed bool, ttl time.Duration) {
	log := e.logger()
	if e.Metrics != nil {
		e.Metrics.Regime(snap)
	}
	if e.Regimes != nil {
		if err := e.Regimes.SetLatest(ctx, snap, ttl); err != nil {
			log.WarnContext(ctx, "service: cache regime failed", slog.String("error", err.Error()))
		}
	}
	if e.Bus != nil {
		if payload, err := json.Marshal(snap); err == nil {
			if err := e.Bus.Publish(ctx, ChannelRegime, payload); err != nil {
				log.WarnContext(ctx, "service: publish regime failed", slog.String("error", err.Error()))
			}
		}
	}
	if changed {
		e.audit(ctx, "regime_change", map[string]any{
			"level":    int(snap.Level),
			"reason":   snap.Reason,
			"degraded": snap.Degraded,
		})
		e.notify(ctx, domain.EventRegimeChange,
			fmt.Sprintf("regime %s (level %d)", snap.Level, snap.Level),
			snap.Reason+"; "+snap.Recommendation)
	}
}

// Reconciled reports a reconciliation that changed something or found
// untracked exchange positions.
func (e *Events) Reconciled(ctx context.Context, strategy string, r ledger.ReconcileReport) {
	if e.Metrics != nil {
		e.Metrics.Reconciled(strategy, len(r.Closed), len(r.Corrections), len(r.Untracked))
	}
	if !r.Changed() && len(r.Untracked) == 0 {
		return
	}
	e.audit(ctx, "reconcile", map[string]any{
		"strategy":    strategy,
		"closed":      r.Closed,
		"corrections": r.Corrections,
		"untracked":   r.Untracked,
	})
	e.notify(ctx, domain.EventReconcileDrift,
		fmt.Sprintf("%s: ledger reconciled", strategy),
		fmt.Sprintf("closed %d, corrected %d, untracked %d", len(r.Closed), len(r.Corrections), len(r.Untracked)))
}

func (e *Events) audit(ctx context.Context, event string, detail map[string]any) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Log(ctx, event, detail); err != nil {
		e.logger().WarnContext(ctx, "service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Events) notify(ctx context.Context, event, title, message string) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, event, title, message); err != nil {
		e.logger().WarnContext(ctx, "service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
