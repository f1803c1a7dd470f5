package okx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/crypto"
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:      baseURL,
		Auth:         crypto.HMACAuth{Key: "k", Secret: "s", Passphrase: "p", Simulated: true},
		Timeout:      200 * time.Millisecond,
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
	}
	noSleep := WithSleep(func(context.Context, time.Duration) error { return nil })
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), append([]Option{noSleep}, opts...)...)
}

func writeEnvelope(w http.ResponseWriter, code, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}

func TestAccountEquity_SignsRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/balance", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get(crypto.HeaderKey))
		assert.Equal(t, "p", r.Header.Get(crypto.HeaderPassphrase))
		assert.Equal(t, "1", r.Header.Get(crypto.HeaderSimulated))
		assert.NotEmpty(t, r.Header.Get(crypto.HeaderSign))
		assert.NotEmpty(t, r.Header.Get(crypto.HeaderTimestamp))
		writeEnvelope(w, "0", "", []map[string]string{{"totalEq": "1234.5"}})
	}))
	defer srv.Close()

	eq, err := newTestClient(t, srv.URL).AccountEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.5, eq)
}

func TestBusinessErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, "51008", "Insufficient balance", []any{})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AccountEquity(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51008", apiErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			time.Sleep(400 * time.Millisecond)
		}
		writeEnvelope(w, "0", "", []map[string]string{{"totalEq": "10"}})
	}))
	defer srv.Close()

	var retries atomic.Int32
	var sleeps []time.Duration
	c := newTestClient(t, srv.URL, WithSleep(func(_ context.Context, d time.Duration) error {
		retries.Add(1)
		sleeps = append(sleeps, d)
		return nil
	}))

	eq, err := c.AccountEquity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, eq)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), retries.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeps)
}

func TestConnectionRefusedExhaustsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var retries atomic.Int32
	c := newTestClient(t, url, WithSleep(func(context.Context, time.Duration) error {
		retries.Add(1)
		return nil
	}))

	_, err := c.AccountEquity(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.Equal(t, int32(2), retries.Load())
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AccountEquity(context.Background())
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCandles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		assert.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("instId"))
		assert.Equal(t, "1H", r.URL.Query().Get("bar"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		writeEnvelope(w, "0", "", [][]string{
			{"1714550400000", "101", "103", "100", "102", "55.5", "0", "0", "1"},
			{"1714546800000", "99", "101", "98", "101", "40", "0", "0", "1"},
		})
	}))
	defer srv.Close()

	bars, err := newTestClient(t, srv.URL).Candles(context.Background(), "BTC-USDT-SWAP", "1H", 25)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 103.0, bars[0].High)
	assert.Equal(t, 55.5, bars[0].Volume)
	assert.True(t, bars[0].Time.After(bars[1].Time))
}

func instrumentsHandler(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/public/instruments" {
			writeEnvelope(w, "0", "", []map[string]string{{
				"instId": r.URL.Query().Get("instId"), "ctVal": "10", "lotSz": "1", "minSz": "1",
			}})
			return
		}
		next(w, r)
	}
}

func TestPositions_ConvertsContracts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(instrumentsHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/positions", r.URL.Path)
		writeEnvelope(w, "0", "", []map[string]string{
			{"instId": "DOGE-USDT-SWAP", "pos": "-3", "posSide": "net", "avgPx": "0.15", "imr": "9"},
			{"instId": "WIF-USDT-SWAP", "pos": "2", "posSide": "long", "avgPx": "2.5", "imr": ""},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Positions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ExchangePosition{
		Instrument: "DOGE-USDT-SWAP", Side: domain.SideShort, Quantity: 30, AvgPrice: 0.15, Margin: 9,
	}, got[0])
	assert.Equal(t, domain.SideLong, got[1].Side)
	assert.Equal(t, 20.0, got[1].Quantity)
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()

	var orderBodyGot, algoBodyGot map[string]any
	srv := httptest.NewServer(instrumentsHandler(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/trade/order":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&orderBodyGot))
			writeEnvelope(w, "0", "", []map[string]string{{"ordId": "123", "clOrdId": "abc", "sCode": "0"}})
		case "/api/v5/trade/order-algo":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&algoBodyGot))
			writeEnvelope(w, "0", "", []map[string]string{{"algoId": "9", "sCode": "0"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	ack, err := newTestClient(t, srv.URL).PlaceOrder(context.Background(), domain.OrderRequest{
		Instrument: "PEPE-USDT-SWAP",
		Side:       domain.SideShort,
		Quantity:   57,
		ClientID:   "abc",
		StopLoss:   1.3,
		TakeProfit: 0.85,
	})
	require.NoError(t, err)
	assert.Equal(t, "123", ack.OrderID)
	assert.Equal(t, "5", ack.Contracts)

	assert.Equal(t, "sell", orderBodyGot["side"])
	assert.Equal(t, "short", orderBodyGot["posSide"])
	assert.Equal(t, "market", orderBodyGot["ordType"])
	assert.Equal(t, "isolated", orderBodyGot["tdMode"])
	assert.Equal(t, "5", orderBodyGot["sz"])

	require.NotNil(t, algoBodyGot)
	assert.Equal(t, "buy", algoBodyGot["side"])
	assert.Equal(t, "oco", algoBodyGot["ordType"])
	assert.Equal(t, "1.3", algoBodyGot["slTriggerPx"])
	assert.Equal(t, "-1", algoBodyGot["tpOrdPx"])
}

func TestPlaceOrder_RejectedItem(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(instrumentsHandler(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "", []map[string]string{{"ordId": "", "sCode": "51121", "sMsg": "lot size"}})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).PlaceOrder(context.Background(), domain.OrderRequest{
		Instrument: "PEPE-USDT-SWAP", Side: domain.SideLong, Quantity: 100,
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51121", apiErr.Code)
}

func TestClosePosition(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v5/trade/close-position", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(w, "0", "", []map[string]string{{"instId": "WIF-USDT-SWAP", "posSide": "long"}})
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).ClosePosition(context.Background(), "WIF-USDT-SWAP", domain.SideLong, "")
	require.NoError(t, err)
	assert.Equal(t, "WIF-USDT-SWAP", body["instId"])
	assert.Equal(t, "long", body["posSide"])
	assert.Equal(t, "isolated", body["mgnMode"])
}
