package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/platform/okx"
	"github.com/alanyoungcy/riskgate/internal/queue"
)

var (
	_ queue.Observer = (*Metrics)(nil)
	_ okx.Observer   = (*Metrics)(nil)
)

func TestDecisionCounter(t *testing.T) {
	t.Parallel()

	m := New()
	d := domain.Decision{Strategy: "trend", Action: domain.IntentOpen, Status: domain.DecisionRejected}
	m.Decision(d)
	m.Decision(d)

	assert.InDelta(t, 2, testutil.ToFloat64(m.decisions.WithLabelValues("trend", "open", "rejected")), 1e-9)
}

func TestRegimeGauges(t *testing.T) {
	t.Parallel()

	m := New()
	m.Regime(domain.RegimeSnapshot{Level: domain.RegimeDanger, Degraded: false})
	assert.InDelta(t, 2, testutil.ToFloat64(m.regimeLevel), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.regimeDegraded), 1e-9)

	m.Regime(domain.RegimeSnapshot{Level: domain.RegimeCaution, Degraded: true})
	assert.InDelta(t, 1, testutil.ToFloat64(m.regimeLevel), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.regimeDegraded), 1e-9)
}

func TestObservers(t *testing.T) {
	t.Parallel()

	m := New()
	m.TaskSettled("trend", 10*time.Millisecond, nil)
	m.TaskSettled("trend", 10*time.Millisecond, errors.New("x"))
	m.QueueDepth("trend", 3)
	m.ObserveRequest("/api/v5/trade/order", "ok", time.Second)
	m.ObserveRetry("/api/v5/trade/order")

	assert.InDelta(t, 1, testutil.ToFloat64(m.queueTasks.WithLabelValues("trend", "error")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.queuePending.WithLabelValues("trend")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.retries.WithLabelValues("/api/v5/trade/order")), 1e-9)
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ActivePositions("trend", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `riskgate_active_positions{strategy="trend"} 2`)
}
