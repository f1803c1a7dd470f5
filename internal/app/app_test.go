package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/config"
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOKX answers every endpoint with an empty success envelope and counts
// position queries.
func fakeOKX(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var positions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/account/positions" {
			positions.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "0", "msg": "", "data": []any{}})
	}))
	t.Cleanup(srv.Close)
	return srv, &positions
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.OKX.BaseURL = baseURL
	cfg.OKX.MaxRetries = 0
	cfg.Ledger.DataDir = t.TempDir()
	cfg.Server.Enabled = false
	cfg.Strategies = []config.StrategyConfig{
		config.DefaultStrategy("trend"),
		config.DefaultStrategy("scalp"),
	}
	require.NoError(t, cfg.Validate())
	return &cfg
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestWireFileBackend(t *testing.T) {
	srv, _ := fakeOKX(t)
	deps, cleanup, err := Wire(context.Background(), testConfig(t, srv.URL), discard)
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, deps.Strategies, 2)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Audit)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Events.Notifier)
	assert.Contains(t, deps.Checks, "regime")
	assert.NotContains(t, deps.Checks, "postgres")

	s, ok := deps.Strategy("scalp")
	require.True(t, ok)
	assert.Equal(t, 3, s.Status().Admission.MaxPositions)
	_, ok = deps.Strategy("missing")
	assert.False(t, ok)
}

func TestWireTickerFeed(t *testing.T) {
	srv, _ := fakeOKX(t)
	cfg := testConfig(t, srv.URL)
	cfg.OKX.TickerFeed = true
	cfg.OKX.WSURL = "ws://127.0.0.1:1/ws"

	deps, cleanup, err := Wire(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, deps.Feed)
	_, ok := deps.Feed.Price("BTC-USDT-SWAP")
	assert.False(t, ok, "nothing cached before the feed runs")
}

func TestWireRejectsUnreadableSecret(t *testing.T) {
	srv, _ := fakeOKX(t)
	cfg := testConfig(t, srv.URL)
	cfg.OKX.APIKey = "k"
	cfg.OKX.Passphrase = "p"
	cfg.OKX.EncryptedSecretPath = t.TempDir() + "/missing.enc"
	cfg.OKX.SecretPassword = "pw"

	_, _, err := Wire(context.Background(), cfg, discard)
	assert.ErrorContains(t, err, "okx secret")
}

func TestReconcile(t *testing.T) {
	srv, positions := fakeOKX(t)
	a := New(testConfig(t, srv.URL), discard)
	defer a.Close()

	reports, err := a.Reconcile(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.False(t, reports["trend"].Changed())
	assert.Equal(t, int32(2), positions.Load())

	reports, err = a.Reconcile(context.Background(), "trend")
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = a.Reconcile(context.Background(), "nope")
	assert.ErrorContains(t, err, `unknown strategy "nope"`)
}

func TestRegimeComputesFreshSnapshot(t *testing.T) {
	srv, _ := fakeOKX(t)
	a := New(testConfig(t, srv.URL), discard)
	defer a.Close()

	snap, err := a.Regime(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.ComputedAt.IsZero())
	assert.Equal(t, domain.RegimeNormal, snap.Level, "flat empty bars classify as normal")
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, positions := fakeOKX(t)
	cfg := testConfig(t, srv.URL)
	a := New(cfg, discard)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return positions.Load() >= 2 }, 2*time.Second, 10*time.Millisecond,
		"startup reconcile queries every strategy")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
