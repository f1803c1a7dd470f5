package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Detector forces a fresh regime classification.
type Detector interface {
	Detect(ctx context.Context) domain.RegimeSnapshot
}

// RegimeMonitor periodically refreshes the regime and reports it.
type RegimeMonitor struct {
	detector Detector
	events   *Events
	interval time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last *domain.RegimeLevel
}

// NewRegimeMonitor creates a monitor. cacheTTL bounds how long the shared
// latest-regime key stays valid; it is usually a few intervals.
func NewRegimeMonitor(detector Detector, events *Events, interval, cacheTTL time.Duration, logger *slog.Logger) *RegimeMonitor {
	if events == nil {
		events = &Events{Logger: logger}
	}
	return &RegimeMonitor{
		detector: detector,
		events:   events,
		interval: interval,
		cacheTTL: cacheTTL,
		logger:   logger.With(slog.String("component", "regime_monitor")),
	}
}

// Run checks immediately and then every interval until ctx is done.
func (m *RegimeMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "service: regime monitor started", slog.Duration("interval", m.interval))
	return every(ctx, m.interval, func(ctx context.Context) { m.Check(ctx) })
}

// Check runs one detection and reports it.
func (m *RegimeMonitor) Check(ctx context.Context) domain.RegimeSnapshot {
	snap := m.detector.Detect(ctx)

	m.mu.Lock()
	changed := m.last == nil || *m.last != snap.Level
	level := snap.Level
	m.last = &level
	m.mu.Unlock()

	if snap.Level > domain.RegimeNormal {
		m.logger.WarnContext(ctx, "service: market regime elevated",
			slog.Int("level", int(snap.Level)),
			slog.String("reason", snap.Reason),
			slog.String("recommendation", snap.Recommendation),
			slog.Bool("degraded", snap.Degraded),
		)
	} else {
		m.logger.DebugContext(ctx, "service: market regime normal")
	}

	m.events.Regime(ctx, snap, changed, m.cacheTTL)
	return snap
}
