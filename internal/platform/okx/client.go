// Package okx is a signed REST client for the OKX v5 API, limited to the
// account, market and trade endpoints the engine consumes.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alanyoungcy/riskgate/internal/crypto"
	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Auth         crypto.HMACAuth
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Observer receives per-request outcomes. Used for metrics.
type Observer interface {
	ObserveRequest(endpoint, outcome string, d time.Duration)
	ObserveRetry(endpoint string)
}

// Client is the OKX REST client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error

	mu          sync.RWMutex
	instruments map[string]domain.Instrument
}

// Option customises a Client.
type Option func(*Client)

// WithObserver attaches a request observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithSleep replaces the retry backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates an OKX client. A zero Timeout defaults to 15s.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger.With(slog.String("component", "okx")),
		sleep:       sleepCtx,
		instruments: make(map[string]domain.Instrument),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AccountEquity returns total account equity in USD.
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	var data []balanceData
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, &data); err != nil {
		return 0, fmt.Errorf("okx: balance: %w", err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("okx: balance: %w", domain.ErrNotFound)
	}
	return parseNum(data[0].TotalEq), nil
}

// Positions returns open swap positions, all of them when instrument is
// empty. Quantities are converted from contracts to base units.
func (c *Client) Positions(ctx context.Context, instrument string) ([]domain.ExchangePosition, error) {
	q := url.Values{"instType": {"SWAP"}}
	if instrument != "" {
		q.Set("instId", instrument)
	}
	var data []positionData
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, &data); err != nil {
		return nil, fmt.Errorf("okx: positions: %w", err)
	}

	out := make([]domain.ExchangePosition, 0, len(data))
	for _, p := range data {
		contracts := parseNum(p.Pos)
		side := domain.Side(p.PosSide)
		if !side.Valid() {
			side = domain.SideLong
			if contracts < 0 {
				side = domain.SideShort
			}
		}
		if contracts < 0 {
			contracts = -contracts
		}
		qty := contracts
		if contracts > 0 {
			spec, err := c.Instrument(ctx, p.InstID)
			if err != nil {
				return nil, fmt.Errorf("okx: positions: %w", err)
			}
			qty = BaseQuantity(contracts, spec)
		}
		margin := parseNum(p.Imr)
		if margin == 0 {
			margin = parseNum(p.Margin)
		}
		out = append(out, domain.ExchangePosition{
			Instrument: p.InstID,
			Side:       side,
			Quantity:   qty,
			AvgPrice:   parseNum(p.AvgPx),
			Margin:     margin,
		})
	}
	return out, nil
}

// SetLeverage sets leverage for an instrument. posSide is sent only in
// isolated mode.
func (c *Client) SetLeverage(ctx context.Context, instrument string, lever int, marginMode string, side domain.Side) error {
	body := leverageBody{InstID: instrument, Lever: strconv.Itoa(lever), MgnMode: marginMode}
	if marginMode == "isolated" {
		body.PosSide = string(side)
	}
	if err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, nil); err != nil {
		return fmt.Errorf("okx: set leverage %s: %w", instrument, err)
	}
	return nil
}

// Candles returns up to limit bars, most recent first.
func (c *Client) Candles(ctx context.Context, instrument, bar string, limit int) ([]domain.Bar, error) {
	q := url.Values{
		"instId": {instrument},
		"bar":    {bar},
		"limit":  {strconv.Itoa(limit)},
	}
	var data [][]string
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, &data); err != nil {
		return nil, fmt.Errorf("okx: candles %s: %w", instrument, err)
	}
	bars := make([]domain.Bar, 0, len(data))
	for _, row := range data {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(ms).UTC(),
			Open:   parseNum(row[1]),
			High:   parseNum(row[2]),
			Low:    parseNum(row[3]),
			Close:  parseNum(row[4]),
			Volume: parseNum(row[5]),
		})
	}
	return bars, nil
}

// LastPrice returns the close of the latest one-minute bar.
func (c *Client) LastPrice(ctx context.Context, instrument string) (float64, error) {
	bars, err := c.Candles(ctx, instrument, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 || bars[0].Close <= 0 {
		return 0, fmt.Errorf("okx: last price %s: %w", instrument, domain.ErrNotFound)
	}
	return bars[0].Close, nil
}

// Instrument returns the contract specification, cached after first use.
func (c *Client) Instrument(ctx context.Context, id string) (domain.Instrument, error) {
	c.mu.RLock()
	spec, ok := c.instruments[id]
	c.mu.RUnlock()
	if ok {
		return spec, nil
	}

	q := url.Values{"instType": {"SWAP"}, "instId": {id}}
	var data []instrumentData
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, &data); err != nil {
		return domain.Instrument{}, fmt.Errorf("okx: instrument %s: %w", id, err)
	}
	if len(data) == 0 {
		return domain.Instrument{}, fmt.Errorf("okx: instrument %s: %w", id, domain.ErrNotFound)
	}
	spec = domain.Instrument{
		ID:        id,
		FaceValue: parseNum(data[0].CtVal),
		LotSize:   parseNum(data[0].LotSz),
		MinSize:   parseNum(data[0].MinSz),
	}
	c.mu.Lock()
	c.instruments[id] = spec
	c.mu.Unlock()
	return spec, nil
}

// PlaceOrder submits an order sized in base units. When the request carries
// stop-loss or take-profit prices, a reduce-only algo order is attached
// after the main order is accepted; failure to attach is logged only.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	spec, err := c.Instrument(ctx, req.Instrument)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("okx: place order: %w", err)
	}
	sz := ContractSize(req.Quantity, spec)
	if !sz.IsPositive() {
		return domain.OrderAck{}, fmt.Errorf("okx: place order %s: %w: size rounds to zero", req.Instrument, domain.ErrInvalidOrder)
	}

	ordType := req.Type
	if ordType == "" {
		ordType = domain.OrderTypeMarket
	}
	body := orderBody{
		InstID:     req.Instrument,
		TdMode:     marginModeOr(req.MarginMode),
		Side:       orderSide(req.Side, req.Close),
		PosSide:    string(req.Side),
		OrdType:    string(ordType),
		Sz:         sz.String(),
		ReduceOnly: req.Close,
		ClOrdID:    req.ClientID,
	}
	if ordType == domain.OrderTypeLimit {
		body.Px = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}

	var data []orderResult
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &data); err != nil {
		return domain.OrderAck{}, fmt.Errorf("okx: place order %s: %w", req.Instrument, err)
	}
	if len(data) == 0 {
		return domain.OrderAck{}, fmt.Errorf("okx: place order %s: empty response", req.Instrument)
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return domain.OrderAck{}, fmt.Errorf("okx: place order %s: %w", req.Instrument,
			&APIError{Code: data[0].SCode, Msg: data[0].SMsg})
	}
	ack := domain.OrderAck{OrderID: data[0].OrdID, ClientID: data[0].ClOrdID, Contracts: body.Sz}

	if !req.Close && (req.StopLoss > 0 || req.TakeProfit > 0) {
		if err := c.attachAlgo(ctx, req, body); err != nil {
			c.logger.WarnContext(ctx, "okx: attach tp/sl failed",
				slog.String("instrument", req.Instrument),
				slog.String("order_id", ack.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return ack, nil
}

func (c *Client) attachAlgo(ctx context.Context, req domain.OrderRequest, main orderBody) error {
	algo := algoOrderBody{
		InstID:     main.InstID,
		TdMode:     main.TdMode,
		Side:       orderSide(req.Side, true),
		PosSide:    main.PosSide,
		OrdType:    "conditional",
		Sz:         main.Sz,
		ReduceOnly: true,
	}
	if req.TakeProfit > 0 {
		algo.TpTriggerPx = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
		algo.TpOrdPx = "-1"
	}
	if req.StopLoss > 0 {
		algo.SlTriggerPx = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
		algo.SlOrdPx = "-1"
	}
	if req.TakeProfit > 0 && req.StopLoss > 0 {
		algo.OrdType = "oco"
	}
	var data []orderResult
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", nil, algo, &data); err != nil {
		return err
	}
	if len(data) > 0 && data[0].SCode != "" && data[0].SCode != "0" {
		return &APIError{Code: data[0].SCode, Msg: data[0].SMsg}
	}
	return nil
}

// ClosePosition market-closes the whole position on one side.
func (c *Client) ClosePosition(ctx context.Context, instrument string, side domain.Side, marginMode string) error {
	body := closePositionBody{InstID: instrument, MgnMode: marginModeOr(marginMode), PosSide: string(side)}
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/close-position", nil, body, nil); err != nil {
		return fmt.Errorf("okx: close position %s: %w", instrument, err)
	}
	return nil
}

// do sends a signed request, retrying transient failures with a fixed
// backoff. Business errors return immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var body []byte
	if reqBody != nil {
		var err error
		if body, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := c.once(ctx, method, requestPath, body, out)
		c.observe(path, err, time.Since(start))
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransient) || attempt >= c.cfg.MaxRetries {
			return err
		}
		c.logger.WarnContext(ctx, "okx: transient failure, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.String("error", err.Error()),
		)
		if c.observer != nil {
			c.observer.ObserveRetry(path)
		}
		if err := c.sleep(ctx, c.cfg.RetryBackoff); err != nil {
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, method, requestPath string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Auth.Headers(method, requestPath, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && isTransient(err) {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == nil && isTransient(err) {
			return fmt.Errorf("%w: read response: %w", domain.ErrTransient, err)
		}
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope[json.RawMessage]
	if jsonErr := json.Unmarshal(respBody, &env); jsonErr != nil || env.Code == "" {
		if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
			return err
		}
		if jsonErr != nil {
			return fmt.Errorf("decode envelope: %w", jsonErr)
		}
	}
	if env.Code != "" && env.Code != "0" {
		return &APIError{Code: env.Code, Msg: env.Msg, HTTPStatus: resp.StatusCode}
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func (c *Client) observe(path string, err error, d time.Duration) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTransient):
		outcome = "transient"
	case errors.As(err, &apiErr):
		outcome = "business"
	default:
		outcome = "error"
	}
	c.observer.ObserveRequest(path, outcome, d)
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// isTransient reports timeouts and refused connections.
func isTransient(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func orderSide(side domain.Side, closing bool) string {
	buy := side == domain.SideLong
	if closing {
		buy = !buy
	}
	if buy {
		return "buy"
	}
	return "sell"
}

func marginModeOr(mode string) string {
	if mode == "" {
		return "isolated"
	}
	return mode
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
