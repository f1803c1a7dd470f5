// Package regime classifies current market conditions into a 0/1/2 risk
// level from reference-instrument moves, panel breadth, volatility and
// moving-average deviation.
package regime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"golang.org/x/sync/errgroup"
)

// MarketData supplies OHLCV bars, most recent first.
type MarketData interface {
	Candles(ctx context.Context, instrument, bar string, limit int) ([]domain.Bar, error)
}

// Config describes what to sample.
type Config struct {
	ReferenceInstruments []string
	VolatilityInstrument string
	Panel                []string
	Bar                  string
	ChangeLookback       int
	ATRPeriod            int
	MAPeriod             int
	TTL                  time.Duration
	FetchConcurrency     int
	Thresholds           Thresholds
}

// Detector computes and caches RegimeSnapshots.
//
// Readers arriving after the TTL each trigger their own refresh; there is no
// single-flight.
type Detector struct {
	cfg    Config
	data   MarketData
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	thresholds Thresholds
	cached     domain.RegimeSnapshot
}

// Option customises a Detector.
type Option func(*Detector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector.
func New(data MarketData, cfg Config, logger *slog.Logger, opts ...Option) *Detector {
	if cfg.Bar == "" {
		cfg.Bar = "1H"
	}
	if cfg.ChangeLookback <= 0 {
		cfg.ChangeLookback = 24
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 24
	}
	if cfg.MAPeriod <= 0 {
		cfg.MAPeriod = 200
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.VolatilityInstrument == "" && len(cfg.ReferenceInstruments) > 0 {
		cfg.VolatilityInstrument = cfg.ReferenceInstruments[0]
	}
	d := &Detector{
		cfg:        cfg,
		data:       data,
		logger:     logger.With(slog.String("component", "regime")),
		now:        func() time.Time { return time.Now().UTC() },
		thresholds: cfg.Thresholds,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// TTL returns how long a snapshot is trusted.
func (d *Detector) TTL() time.Duration { return d.cfg.TTL }

// SetThresholds replaces the classification thresholds. Cached snapshots are
// not reclassified.
func (d *Detector) SetThresholds(th Thresholds) {
	d.mu.Lock()
	d.thresholds = th
	d.mu.Unlock()
	d.logger.Info("regime: thresholds updated", slog.Any("thresholds", th))
}

// Thresholds returns the active thresholds.
func (d *Detector) Thresholds() Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholds
}

// Current returns the cached snapshot while it is within the TTL and
// computes a fresh one otherwise. It never returns an error: data failures
// produce a degraded level 1 snapshot.
func (d *Detector) Current(ctx context.Context) domain.RegimeSnapshot {
	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()

	if cached.Fresh(d.now(), d.cfg.TTL) {
		return cached
	}
	return d.Detect(ctx)
}

// Cached returns the last computed snapshot without refreshing it.
func (d *Detector) Cached() (domain.RegimeSnapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached, !d.cached.ComputedAt.IsZero()
}

// Detect always computes a fresh snapshot and caches it.
func (d *Detector) Detect(ctx context.Context) domain.RegimeSnapshot {
	th := d.Thresholds()

	var snap domain.RegimeSnapshot
	metrics, err := d.measure(ctx, th)
	if err != nil {
		d.logger.WarnContext(ctx, "regime: detection failed, assuming caution",
			slog.String("error", err.Error()),
		)
		snap = domain.RegimeSnapshot{
			Level:          domain.RegimeCaution,
			Reason:         "regime detection failed: " + err.Error(),
			Recommendation: "pause new positions",
			Metrics:        metrics,
			ComputedAt:     d.now(),
			Degraded:       true,
		}
	} else {
		level, reason := Classify(metrics, th)
		snap = domain.RegimeSnapshot{
			Level:          level,
			Reason:         reason,
			Recommendation: Recommendation(level),
			Metrics:        metrics,
			ComputedAt:     d.now(),
		}
		d.logger.DebugContext(ctx, "regime: detected",
			slog.Int("level", int(level)),
			slog.String("reason", reason),
			slog.Float64("drop_pct", metrics.DropPct),
			slog.Float64("rise_pct", metrics.RisePct),
			slog.Float64("atr_pct", metrics.ATRPct),
		)
	}

	d.mu.Lock()
	d.cached = snap
	d.mu.Unlock()
	return snap
}

// measure gathers the metric bundle. Reference and volatility fetch failures
// abort; panel members that fail are left out of the breadth denominator.
func (d *Detector) measure(ctx context.Context, th Thresholds) (domain.RegimeMetrics, error) {
	var m domain.RegimeMetrics
	lookback := d.cfg.ChangeLookback

	for _, inst := range d.cfg.ReferenceInstruments {
		bars, err := d.data.Candles(ctx, inst, d.cfg.Bar, lookback+1)
		if err != nil {
			return m, fmt.Errorf("reference %s: %w", inst, err)
		}
		m.ReferenceChanges = append(m.ReferenceChanges, domain.InstrumentChange{
			Instrument: inst,
			ChangePct:  changePct(bars, lookback),
		})
	}

	if d.cfg.VolatilityInstrument != "" {
		limit := max(d.cfg.ATRPeriod+1, d.cfg.MAPeriod+1)
		bars, err := d.data.Candles(ctx, d.cfg.VolatilityInstrument, d.cfg.Bar, limit)
		if err != nil {
			return m, fmt.Errorf("volatility %s: %w", d.cfg.VolatilityInstrument, err)
		}
		m.ATRPct = atrPct(bars, d.cfg.ATRPeriod)
		m.MADeviationPct = maDeviationPct(bars, d.cfg.MAPeriod)
	}

	changes := d.panelChanges(ctx, lookback)
	if len(d.cfg.Panel) > 0 && len(changes) == 0 {
		return m, errors.New("no panel data available")
	}
	m.PanelSize = len(changes)
	for _, c := range changes {
		switch {
		case c < -th.MemberMovePct:
			m.DroppingCount++
		case c > th.MemberMovePct:
			m.RisingCount++
		}
	}
	if m.PanelSize > 0 {
		m.DropPct = float64(m.DroppingCount) / float64(m.PanelSize) * 100
		m.RisePct = float64(m.RisingCount) / float64(m.PanelSize) * 100
	}
	return m, nil
}

func (d *Detector) panelChanges(ctx context.Context, lookback int) []float64 {
	var (
		mu      sync.Mutex
		changes []float64
		g       errgroup.Group
	)
	g.SetLimit(d.cfg.FetchConcurrency)
	for _, inst := range d.cfg.Panel {
		g.Go(func() error {
			bars, err := d.data.Candles(ctx, inst, d.cfg.Bar, lookback+1)
			if err != nil {
				d.logger.DebugContext(ctx, "regime: panel member skipped",
					slog.String("instrument", inst),
					slog.String("error", err.Error()),
				)
				return nil
			}
			c := changePct(bars, lookback)
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return changes
}
