package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/gate"
	"github.com/alanyoungcy/riskgate/internal/ledger"
	"github.com/alanyoungcy/riskgate/internal/queue"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	trades    []domain.TradeRecord
}

func (m *memStore) LoadPositions(context.Context, string) (map[string]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SavePositions(_ context.Context, _ string, p map[string]domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = p
	return nil
}

func (m *memStore) LoadTrades(context.Context, string) ([]domain.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TradeRecord(nil), m.trades...), nil
}

func (m *memStore) AppendTrade(_ context.Context, _ string, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, rec)
	return nil
}

type fakeExchange struct {
	mu        sync.Mutex
	price     float64
	priceErr  error
	equity    float64
	positions []domain.ExchangePosition
	placeErr  error
	placed    []domain.OrderRequest
	closed    []domain.Side
	levered   int
}

func (f *fakeExchange) AccountEquity(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.equity, nil
}

func (f *fakeExchange) Positions(_ context.Context, instrument string) ([]domain.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ExchangePosition
	for _, p := range f.positions {
		if instrument == "" || p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeExchange) SetLeverage(context.Context, string, int, string, domain.Side) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levered++
	return nil
}

func (f *fakeExchange) LastPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderAck{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return domain.OrderAck{OrderID: "ord-" + req.Instrument}, nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, _ string, side domain.Side, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, side)
	return nil
}

func (f *fakeExchange) set(fn func(f *fakeExchange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeRegime struct{ snap domain.RegimeSnapshot }

func (r fakeRegime) Current(context.Context) domain.RegimeSnapshot { return r.snap }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string]int
	appended  map[string][][]byte
	stream    []domain.StreamMessage
	readFrom  []string
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string]int{}, appended: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel]++
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readFrom = append(b.readFrom, lastID)
	out := b.stream
	b.stream = nil
	return out, nil
}

type recordingCache struct {
	mu   sync.Mutex
	last domain.RegimeSnapshot
	sets int
}

func (c *recordingCache) SetLatest(_ context.Context, snap domain.RegimeSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = snap
	c.sets++
	return nil
}

func (c *recordingCache) Latest(context.Context) (domain.RegimeSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == 0 {
		return domain.RegimeSnapshot{}, domain.ErrNotFound
	}
	return c.last, nil
}

type harness struct {
	svc      *TradeService
	ex       *fakeExchange
	store    *memStore
	notifier *recordingNotifier
	bus      *recordingBus
}

func testConfig() StrategyConfig {
	return StrategyConfig{
		Name:       "trend",
		Admission:  gate.DefaultConfig(),
		Leverage:   10,
		MarginMode: "isolated",
	}
}

func newHarness(t *testing.T, cfg StrategyConfig) *harness {
	t.Helper()
	logger := discard()
	store := &memStore{}
	l, err := ledger.New(context.Background(), cfg.Name, store, logger)
	require.NoError(t, err)

	ex := &fakeExchange{price: 100, equity: 1000}
	g := gate.New(l, fakeRegime{domain.RegimeSnapshot{Level: domain.RegimeNormal, Reason: "market normal"}}, ex, logger)
	q := queue.New[domain.Decision](cfg.Name, nil, logger)

	h := &harness{ex: ex, store: store, notifier: &recordingNotifier{}, bus: newRecordingBus()}
	events := &Events{Bus: h.bus, Notifier: h.notifier, Logger: logger}
	h.svc = NewTradeService(cfg, q, l, g, ex, events, logger)
	return h
}

func (h *harness) submit(t *testing.T, intent domain.TradeIntent) (domain.Decision, error) {
	t.Helper()
	handle, err := h.svc.Submit(context.Background(), intent)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return handle.Wait(ctx)
}

func openIntent(instrument string, side domain.Side, qty float64) domain.TradeIntent {
	return domain.TradeIntent{Instrument: instrument, Action: domain.IntentOpen, Side: side, Quantity: qty}
}

func closeIntent(instrument string) domain.TradeIntent {
	return domain.TradeIntent{Instrument: instrument, Action: domain.IntentClose}
}
