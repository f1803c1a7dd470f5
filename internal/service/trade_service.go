package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/gate"
	"github.com/alanyoungcy/riskgate/internal/ledger"
	"github.com/alanyoungcy/riskgate/internal/queue"
)

// CloseReasonSignal is recorded on positions closed by a close intent.
const CloseReasonSignal = "signal"

// Exchange is the subset of the exchange client a strategy trades through.
type Exchange interface {
	AccountEquity(ctx context.Context) (float64, error)
	Positions(ctx context.Context, instrument string) ([]domain.ExchangePosition, error)
	SetLeverage(ctx context.Context, instrument string, lever int, marginMode string, side domain.Side) error
	LastPrice(ctx context.Context, instrument string) (float64, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
	ClosePosition(ctx context.Context, instrument string, side domain.Side, marginMode string) error
}

// StrategyConfig is the per-strategy trading configuration.
type StrategyConfig struct {
	Name       string
	Admission  gate.Config
	Leverage   int
	MarginMode string
	// SingleSymbolMaxMarginPct caps one instrument's margin as a share of
	// account equity when adding to a position. Zero disables the cap.
	SingleSymbolMaxMarginPct float64
	TakeProfitPct            float64
	StopLossPct              float64
	AttachTPSL               bool
}

// StrategyStatus is a point-in-time view of one strategy.
type StrategyStatus struct {
	Name      string             `json:"name"`
	Queue     queue.Status       `json:"queue"`
	Stats     domain.LedgerStats `json:"stats"`
	Admission gate.Config        `json:"admission"`
}

// TradeService owns one strategy's queue, ledger and gate. Every exchange
// mutation and every ledger write for the strategy runs as a task on its
// queue, so the ledger only ever has one driver.
type TradeService struct {
	cfg      StrategyConfig
	queue    *queue.Queue[domain.Decision]
	ledger   *ledger.Ledger
	gate     *gate.Gate
	exchange Exchange
	events   *Events
	logger   *slog.Logger
	now      func() time.Time
}

// NewTradeService wires a strategy. events may be nil.
func NewTradeService(
	cfg StrategyConfig,
	q *queue.Queue[domain.Decision],
	l *ledger.Ledger,
	g *gate.Gate,
	exchange Exchange,
	events *Events,
	logger *slog.Logger,
) *TradeService {
	if events == nil {
		events = &Events{Logger: logger}
	}
	return &TradeService{
		cfg:      cfg,
		queue:    q,
		ledger:   l,
		gate:     g,
		exchange: exchange,
		events:   events,
		logger:   logger.With(slog.String("component", "trade_service"), slog.String("strategy", cfg.Name)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the strategy name.
func (s *TradeService) Name() string { return s.cfg.Name }

// Ledger exposes the strategy ledger for read-only use.
func (s *TradeService) Ledger() *ledger.Ledger { return s.ledger }

// Positions returns the strategy's active positions.
func (s *TradeService) Positions() []domain.Position { return s.ledger.Active() }

// Trades returns the strategy's closed-trade history.
func (s *TradeService) Trades() []domain.TradeRecord { return s.ledger.History() }

// Status reports queue and ledger state.
func (s *TradeService) Status() StrategyStatus {
	return StrategyStatus{
		Name:      s.cfg.Name,
		Queue:     s.queue.Status(),
		Stats:     s.ledger.Stats(),
		Admission: s.cfg.Admission,
	}
}

// Submit validates intent and enqueues it. The returned handle settles with
// the decision; a non-nil handle error accompanies DecisionError outcomes.
func (s *TradeService) Submit(ctx context.Context, intent domain.TradeIntent) (*queue.Handle[domain.Decision], error) {
	intent.Instrument = domain.NormalizeInstrument(intent.Instrument)
	intent.Strategy = s.cfg.Name
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.ReceivedAt.IsZero() {
		intent.ReceivedAt = s.now()
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	meta := queue.Meta{
		ID:         intent.ID,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Quantity:   intent.Quantity,
		Kind:       string(intent.Action),
	}
	return s.queue.Enqueue(ctx, func(ctx context.Context) (domain.Decision, error) {
		d, err := s.process(ctx, intent)
		d.DecidedAt = s.now()
		s.events.Decision(ctx, d)
		if s.events.Metrics != nil {
			s.events.Metrics.ActivePositions(s.cfg.Name, s.ledger.ActiveCount())
		}
		return d, err
	}, meta), nil
}

func (s *TradeService) process(ctx context.Context, in domain.TradeIntent) (domain.Decision, error) {
	d := domain.Decision{
		IntentID:   in.ID,
		Strategy:   in.Strategy,
		Instrument: in.Instrument,
		Action:     in.Action,
		Side:       in.Side,
		Quantity:   in.Quantity,
	}
	if in.Action == domain.IntentClose {
		return s.closePosition(ctx, d)
	}

	if pos, ok := s.ledger.Get(in.Instrument); ok && pos.Active() {
		if pos.Side != in.Side {
			d.Status = domain.DecisionRejected
			d.Reason = fmt.Sprintf("position already open on %s (%s)", in.Instrument, pos.Side)
			return d, nil
		}
		return s.addPosition(ctx, d, pos)
	}
	return s.openPosition(ctx, d)
}

// openPosition admits, records optimistically, then trades. Any exchange
// failure removes the optimistic record.
func (s *TradeService) openPosition(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	adm := s.gate.CheckCanOpen(ctx, d.Instrument, d.Side, d.Quantity, s.cfg.Admission)
	d.Regime = &adm.Regime
	if !adm.CanOpen {
		d.Status = domain.DecisionRejected
		d.Reason = adm.Reason
		return d, nil
	}

	price, err := s.exchange.LastPrice(ctx, d.Instrument)
	if err != nil {
		return s.fail(d, "price lookup failed", err)
	}
	d.Price = price

	if err := s.ledger.RecordOpen(ctx, d.Instrument, d.Side, price, d.Quantity, price*d.Quantity); err != nil {
		return s.fail(d, "ledger open failed", err)
	}

	ack, err := s.placeOrder(ctx, d, price)
	if err != nil {
		s.ledger.RemovePosition(ctx, d.Instrument)
		s.logger.WarnContext(ctx, "service: open rolled back",
			slog.String("instrument", d.Instrument),
			slog.String("error", err.Error()),
		)
		return s.fail(d, "order failed", err)
	}

	d.Status = domain.DecisionSuccess
	d.OrderID = ack.OrderID
	d.Reason = fmt.Sprintf("opened %s %s", d.Side, d.Instrument)
	return d, nil
}

// addPosition grows an existing position. The ledger is updated only after
// the exchange accepts the order.
func (s *TradeService) addPosition(ctx context.Context, d domain.Decision, pos domain.Position) (domain.Decision, error) {
	price, err := s.exchange.LastPrice(ctx, d.Instrument)
	if err != nil {
		return s.fail(d, "price lookup failed", err)
	}
	d.Price = price
	margin := price * d.Quantity

	if limit := s.cfg.SingleSymbolMaxMarginPct; limit > 0 {
		equity, err := s.exchange.AccountEquity(ctx)
		if err != nil {
			return s.fail(d, "equity lookup failed", err)
		}
		if reason, ok := marginCapExceeded(pos.Margin+margin, equity, limit); ok {
			d.Status = domain.DecisionRejected
			d.Reason = fmt.Sprintf("%s %s", d.Instrument, reason)
			return d, nil
		}
	}

	ack, err := s.placeOrder(ctx, d, price)
	if err != nil {
		return s.fail(d, "order failed", err)
	}
	d.OrderID = ack.OrderID

	if err := s.ledger.RecordAdd(ctx, d.Instrument, price, d.Quantity, margin); err != nil {
		return s.fail(d, "ledger add failed after order "+ack.OrderID, err)
	}

	d.Status = domain.DecisionSuccess
	d.Reason = fmt.Sprintf("added to %s %s", d.Side, d.Instrument)
	return d, nil
}

func marginCapExceeded(totalMargin, equity, limitPct float64) (string, bool) {
	if equity <= 0 {
		return "account equity unavailable", true
	}
	pct := totalMargin / equity * 100
	if pct > limitPct {
		return fmt.Sprintf("margin %.2f%% of equity exceeds %.1f%% cap", pct, limitPct), true
	}
	return "", false
}

func (s *TradeService) placeOrder(ctx context.Context, d domain.Decision, price float64) (domain.OrderAck, error) {
	if s.cfg.Leverage > 0 {
		if err := s.exchange.SetLeverage(ctx, d.Instrument, s.cfg.Leverage, s.cfg.MarginMode, d.Side); err != nil {
			return domain.OrderAck{}, fmt.Errorf("set leverage: %w", err)
		}
	}
	req := domain.OrderRequest{
		Instrument: d.Instrument,
		Side:       d.Side,
		Type:       domain.OrderTypeMarket,
		Quantity:   d.Quantity,
		MarginMode: s.cfg.MarginMode,
	}
	if s.cfg.AttachTPSL {
		req.TakeProfit, req.StopLoss = protectivePrices(price, d.Side, s.cfg.TakeProfitPct, s.cfg.StopLossPct)
	}
	return s.exchange.PlaceOrder(ctx, req)
}

// protectivePrices returns take-profit and stop-loss triggers around entry.
// A zero percentage yields a zero price, meaning none.
func protectivePrices(entry float64, side domain.Side, tpPct, slPct float64) (tp, sl float64) {
	dir := 1.0
	if side == domain.SideShort {
		dir = -1
	}
	if tpPct > 0 {
		tp = entry * (1 + dir*tpPct/100)
	}
	if slPct > 0 {
		sl = entry * (1 - dir*slPct/100)
	}
	return tp, sl
}

// closePosition closes the exchange position on the instrument and records
// the trade. With nothing on the exchange the intent is skipped, and a
// stale local position is settled through reconciliation.
func (s *TradeService) closePosition(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	remote, err := s.exchange.Positions(ctx, d.Instrument)
	if err != nil {
		return s.fail(d, "position lookup failed", err)
	}
	local, hasLocal := s.ledger.Get(d.Instrument)
	hasLocal = hasLocal && local.Active()

	ep, ok := pickOpen(remote, local.Side, hasLocal)
	if !ok {
		d.Status = domain.DecisionSkipped
		d.Reason = fmt.Sprintf("no open exchange position on %s", d.Instrument)
		if hasLocal {
			if _, err := s.reconcileNow(ctx); err != nil {
				s.logger.WarnContext(ctx, "service: reconcile after skipped close failed",
					slog.String("error", err.Error()),
				)
			}
		}
		return d, nil
	}
	d.Side = ep.Side
	d.Quantity = ep.Quantity

	if err := s.exchange.ClosePosition(ctx, d.Instrument, ep.Side, s.cfg.MarginMode); err != nil {
		return s.fail(d, "close failed", err)
	}

	exit, err := s.exchange.LastPrice(ctx, d.Instrument)
	if err != nil {
		exit = ep.AvgPrice
		if hasLocal {
			exit = local.EntryPrice
		}
		s.logger.WarnContext(ctx, "service: exit price unavailable, using entry",
			slog.String("instrument", d.Instrument),
			slog.String("error", err.Error()),
		)
	}
	d.Price = exit
	d.Status = domain.DecisionSuccess

	if !hasLocal {
		d.Reason = fmt.Sprintf("closed untracked %s %s", ep.Side, d.Instrument)
		return d, nil
	}

	pnl := PnL(local.Side, local.EntryPrice, exit, local.Quantity)
	if _, err := s.ledger.RecordClose(ctx, d.Instrument, exit, pnl, CloseReasonSignal); err != nil {
		return s.fail(d, "ledger close failed", err)
	}
	d.Reason = fmt.Sprintf("closed %s %s pnl %.4f", ep.Side, d.Instrument, pnl)
	return d, nil
}

// pickOpen selects the exchange position to close, preferring the locally
// tracked side.
func pickOpen(remote []domain.ExchangePosition, side domain.Side, preferSide bool) (domain.ExchangePosition, bool) {
	var first *domain.ExchangePosition
	for i := range remote {
		if remote[i].Quantity <= 0 {
			continue
		}
		if preferSide && remote[i].Side == side {
			return remote[i], true
		}
		if first == nil {
			first = &remote[i]
		}
	}
	if first == nil {
		return domain.ExchangePosition{}, false
	}
	return *first, true
}

// PnL is the linear profit of a position closed at exit.
func PnL(side domain.Side, entry, exit, quantity float64) float64 {
	if side == domain.SideShort {
		return (entry - exit) * quantity
	}
	return (exit - entry) * quantity
}

func (s *TradeService) fail(d domain.Decision, what string, err error) (domain.Decision, error) {
	d.Status = domain.DecisionError
	d.Reason = fmt.Sprintf("%s: %v", what, err)
	return d, fmt.Errorf("service: %s %s: %w", d.Action, d.Instrument, err)
}

// Reconcile runs a reconciliation as a task on the strategy queue and waits
// for it.
func (s *TradeService) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	var report ledger.ReconcileReport
	h := s.queue.Enqueue(ctx, func(ctx context.Context) (domain.Decision, error) {
		r, err := s.reconcileNow(ctx)
		report = r
		return domain.Decision{}, err
	}, queue.Meta{Kind: "reconcile"})

	if _, err := h.Wait(ctx); err != nil {
		return ledger.ReconcileReport{}, err
	}
	return report, nil
}

// reconcileNow must run on the queue.
func (s *TradeService) reconcileNow(ctx context.Context) (ledger.ReconcileReport, error) {
	snapshot, err := s.exchange.Positions(ctx, "")
	if err != nil {
		return ledger.ReconcileReport{}, fmt.Errorf("service: reconcile %s: %w", s.cfg.Name, err)
	}
	report := s.ledger.Reconcile(ctx, snapshot)
	s.events.Reconciled(ctx, s.cfg.Name, report)
	if s.events.Metrics != nil {
		s.events.Metrics.ActivePositions(s.cfg.Name, s.ledger.ActiveCount())
	}
	return report, nil
}

// ReconcileLoop reconciles every interval until ctx is done. The first run
// happens one interval after the call; a non-positive interval disables it.
func (s *TradeService) ReconcileLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "service: periodic reconcile failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Shutdown drops pending intents and waits for the in-flight one.
func (s *TradeService) Shutdown(ctx context.Context) error {
	if n := s.queue.Clear(); n > 0 {
		s.logger.WarnContext(ctx, "service: dropped pending intents on shutdown", slog.Int("count", n))
	}
	return s.queue.Drain(ctx)
}
