package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/server/handler"
	"github.com/alanyoungcy/riskgate/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct{}

func (stubStrategy) Name() string                   { return "trend" }
func (stubStrategy) Status() service.StrategyStatus { return service.StrategyStatus{Name: "trend"} }
func (stubStrategy) Positions() []domain.Position   { return nil }
func (stubStrategy) Trades() []domain.TradeRecord   { return nil }

type stubRegime struct{}

func (stubRegime) Cached() (domain.RegimeSnapshot, bool) { return domain.RegimeSnapshot{}, true }
func (stubRegime) Current(context.Context) domain.RegimeSnapshot {
	return domain.RegimeSnapshot{}
}

func testHandlers(logger *slog.Logger) Handlers {
	return Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Strategies: handler.NewStrategyHandler([]handler.Strategy{stubStrategy{}}, logger),
		Regime:     handler.NewRegimeHandler(stubRegime{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "riskgate_up 1\n")
		}),
	}
}

func TestRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{APIKey: "k"}, testHandlers(logger), logger)

	get := func(path string, key string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/api/health", ""))
	assert.Equal(t, http.StatusOK, get("/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/strategies", ""))
	assert.Equal(t, http.StatusOK, get("/api/strategies", "k"))
	assert.Equal(t, http.StatusOK, get("/api/strategies/trend/positions", "k"))
	assert.Equal(t, http.StatusOK, get("/api/regime", "k"))
	assert.Equal(t, http.StatusNotFound, get("/api/audit", "k"), "audit is only routed when a store is wired")
	assert.Equal(t, http.StatusNotFound, get("/ws", "k"))
}

func TestServeAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{}, testHandlers(logger), logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
