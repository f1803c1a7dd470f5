package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerStore_Positions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLedgerStore(dir)
	require.NoError(t, err)

	empty, err := s.LoadPositions(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, empty)

	opened := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	want := map[string]domain.Position{
		"WIF-USDT-SWAP": {
			Instrument: "WIF-USDT-SWAP",
			Status:     domain.PositionStatusActive,
			Side:       domain.SideLong,
			EntryPrice: 2,
			Quantity:   10,
			TotalCost:  20,
			OpenTime:   opened,
			AddCount:   1,
			Fills:      []domain.Fill{{Action: domain.FillOpen, Price: 2, Quantity: 10, Timestamp: opened}},
		},
	}
	require.NoError(t, s.SavePositions(ctx, "alpha", want))

	got, err := s.LoadPositions(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := s.LoadPositions(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, other, "strategies are isolated")

	require.NoError(t, s.SavePositions(ctx, "alpha", map[string]domain.Position{}))
	got, err = s.LoadPositions(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files are cleaned up")
	}
}

func TestLedgerStore_TradesAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLedgerStore(dir)
	require.NoError(t, err)

	for i, pnl := range []float64{1.5, -0.5} {
		require.NoError(t, s.AppendTrade(ctx, "alpha", domain.TradeRecord{
			ID:          []string{"a", "b"}[i],
			Strategy:    "alpha",
			PnL:         pnl,
			CloseReason: "signal",
			ClosedAt:    time.Date(2025, 2, 1, 0, 0, i, 0, time.UTC),
		}))
	}

	got, err := s.LoadTrades(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, -0.5, got[1].PnL)

	raw, err := os.ReadFile(filepath.Join(dir, "alpha-trades.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(raw))
}

func TestLedgerStore_CorruptDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha-positions.json"), []byte("{not json"), 0o644))

	s, err := NewLedgerStore(dir)
	require.NoError(t, err)
	_, err = s.LoadPositions(context.Background(), "alpha")
	require.Error(t, err)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
