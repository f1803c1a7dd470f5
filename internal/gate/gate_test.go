package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePositions struct {
	active   map[string]bool
	breached bool
	equities []float64
}

func (f *fakePositions) CanOpen(instrument string, maxPositions int) bool {
	return len(f.active) < maxPositions && !f.active[instrument]
}

func (f *fakePositions) ActiveCount() int { return len(f.active) }

func (f *fakePositions) CheckDrawdown(equity, _ float64) bool {
	f.equities = append(f.equities, equity)
	return f.breached
}

type fakeRegime struct{ snap domain.RegimeSnapshot }

func (f fakeRegime) Current(context.Context) domain.RegimeSnapshot { return f.snap }

type fakeEquity struct {
	value float64
	err   error
	calls int
}

func (f *fakeEquity) AccountEquity(context.Context) (float64, error) {
	f.calls++
	return f.value, f.err
}

func newGate(p *fakePositions, level domain.RegimeLevel, eq *fakeEquity) *Gate {
	snap := domain.RegimeSnapshot{Level: level, Reason: "test regime"}
	return New(p, fakeRegime{snap}, eq, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckCanOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := DefaultConfig()

	t.Run("cap reached", func(t *testing.T) {
		t.Parallel()
		eq := &fakeEquity{value: 1000}
		p := &fakePositions{active: map[string]bool{"A": true, "B": true, "C": true}}
		d := newGate(p, domain.RegimeNormal, eq).CheckCanOpen(ctx, "D", domain.SideLong, 1, cfg)
		assert.False(t, d.CanOpen)
		assert.Equal(t, "max positions reached (3)", d.Reason)
		assert.Zero(t, eq.calls, "cap check short-circuits equity lookup")
	})

	t.Run("instrument already active", func(t *testing.T) {
		t.Parallel()
		p := &fakePositions{active: map[string]bool{"A": true}}
		d := newGate(p, domain.RegimeNormal, &fakeEquity{value: 1000}).CheckCanOpen(ctx, "A", domain.SideLong, 1, cfg)
		assert.False(t, d.CanOpen)
		assert.Contains(t, d.Reason, "already open on A")
	})

	t.Run("drawdown breach", func(t *testing.T) {
		t.Parallel()
		p := &fakePositions{breached: true}
		d := newGate(p, domain.RegimeNormal, &fakeEquity{value: 790}).CheckCanOpen(ctx, "A", domain.SideShort, 1, cfg)
		assert.False(t, d.CanOpen)
		assert.Contains(t, d.Reason, "drawdown")
		assert.Equal(t, []float64{790}, p.equities)
	})

	t.Run("equity failure denies", func(t *testing.T) {
		t.Parallel()
		eq := &fakeEquity{err: errors.New("okx: timeout")}
		d := newGate(&fakePositions{}, domain.RegimeNormal, eq).CheckCanOpen(ctx, "A", domain.SideLong, 1, cfg)
		assert.False(t, d.CanOpen)
		assert.Equal(t, "check failed: okx: timeout", d.Reason)
	})

	t.Run("approved with regime attached", func(t *testing.T) {
		t.Parallel()
		d := newGate(&fakePositions{}, domain.RegimeNormal, &fakeEquity{value: 1000}).CheckCanOpen(ctx, "A", domain.SideLong, 1, cfg)
		assert.True(t, d.CanOpen)
		assert.Equal(t, "all checks passed", d.Reason)
		assert.Equal(t, "test regime", d.Regime.Reason)
		assert.Equal(t, 3, d.AdvisoryCap)
	})

	t.Run("danger regime does not change the cap", func(t *testing.T) {
		t.Parallel()
		p := &fakePositions{active: map[string]bool{"A": true}}
		d := newGate(p, domain.RegimeDanger, &fakeEquity{value: 1000}).CheckCanOpen(ctx, "B", domain.SideLong, 1, cfg)
		assert.True(t, d.CanOpen)
		assert.Equal(t, domain.RegimeDanger, d.Regime.Level)
		assert.Zero(t, d.AdvisoryCap)
	})
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := DefaultConfig()
	maxPos := 5
	caps := LevelCaps{Level0: 5, Level1: 2, Level2: 1}

	got := Merge(base, Override{MaxPositions: &maxPos, LevelCaps: &caps})
	require.Equal(t, 5, got.MaxPositions)
	assert.Equal(t, 20.0, got.DrawdownStopPct)
	assert.Equal(t, caps, got.LevelCaps)

	assert.Equal(t, DefaultConfig(), base, "base is not modified")
	assert.Equal(t, base, Merge(base, Override{}))
}

func TestLevelCapsFor(t *testing.T) {
	t.Parallel()
	caps := DefaultConfig().LevelCaps
	assert.Equal(t, 3, caps.For(domain.RegimeNormal))
	assert.Equal(t, 1, caps.For(domain.RegimeCaution))
	assert.Equal(t, 0, caps.For(domain.RegimeDanger))
}
