// Package feed keeps last-trade prices current from the OKX public websocket
// tickers channel.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	dialTimeout  = 10 * time.Second
	baseBackoff  = time.Second
	maxBackoff   = 60 * time.Second
)

type tick struct {
	price float64
	at    time.Time
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type request struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type push struct {
	Event string       `json:"event"`
	Msg   string       `json:"msg"`
	Arg   subscribeArg `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// TickerFeed subscribes to the tickers channel for a growing set of
// instruments and caches the latest price per instrument. It reconnects
// with exponential backoff and resubscribes everything on each connect.
type TickerFeed struct {
	url    string
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	prices map[string]tick
	want   map[string]bool

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewTickerFeed creates a feed for url. Prices older than maxAge are treated
// as missing.
func NewTickerFeed(url string, instruments []string, maxAge time.Duration, logger *slog.Logger) *TickerFeed {
	f := &TickerFeed{
		url:    url,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "ticker_feed")),
		now:    time.Now,
		prices: make(map[string]tick),
		want:   make(map[string]bool),
	}
	for _, inst := range instruments {
		f.want[inst] = true
	}
	return f
}

// Price returns the cached price for instrument if it is fresh.
func (f *TickerFeed) Price(instrument string) (float64, bool) {
	f.mu.RLock()
	t, ok := f.prices[instrument]
	f.mu.RUnlock()
	if !ok || f.now().Sub(t.at) > f.maxAge {
		return 0, false
	}
	return t.price, true
}

// Watch adds instrument to the subscription set, subscribing immediately
// when connected.
func (f *TickerFeed) Watch(instrument string) {
	f.mu.Lock()
	if f.want[instrument] {
		f.mu.Unlock()
		return
	}
	f.want[instrument] = true
	f.mu.Unlock()

	if err := f.subscribe([]string{instrument}); err != nil {
		f.logger.Debug("feed: deferred subscribe", slog.String("instrument", instrument), slog.String("error", err.Error()))
	}
}

// Run connects and reads until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.logger.WarnContext(ctx, "feed: disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Int("retry", retry),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff(retry)):
		}
		retry++
	}
}

func backoff(retry int) time.Duration {
	if retry > 6 {
		return maxBackoff
	}
	return min(baseBackoff<<retry, maxBackoff)
}

func (f *TickerFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	f.mu.RLock()
	insts := make([]string, 0, len(f.want))
	for inst := range f.want {
		insts = append(insts, inst)
	}
	f.mu.RUnlock()
	if err := f.subscribe(insts); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "feed: connected", slog.Int("instruments", len(insts)))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handle(ctx, msg)
	}
}

func (f *TickerFeed) pingLoop(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := f.write([]byte("ping")); err != nil {
				return
			}
		}
	}
}

func (f *TickerFeed) subscribe(instruments []string) error {
	if len(instruments) == 0 {
		return nil
	}
	req := request{Op: "subscribe", Args: make([]subscribeArg, 0, len(instruments))}
	for _, inst := range instruments {
		req.Args = append(req.Args, subscribeArg{Channel: "tickers", InstID: inst})
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return f.write(b)
}

func (f *TickerFeed) write(b []byte) error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (f *TickerFeed) handle(ctx context.Context, msg []byte) {
	if string(msg) == "pong" {
		return
	}
	var p push
	if err := json.Unmarshal(msg, &p); err != nil {
		return
	}
	if p.Event == "error" {
		f.logger.WarnContext(ctx, "feed: subscription error", slog.String("msg", p.Msg))
		return
	}
	if p.Arg.Channel != "tickers" {
		return
	}
	for _, d := range p.Data {
		price, err := strconv.ParseFloat(d.Last, 64)
		if err != nil || price <= 0 {
			continue
		}
		at := f.now()
		if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil && ms > 0 {
			at = time.UnixMilli(ms)
		}
		f.mu.Lock()
		f.prices[d.InstID] = tick{price: price, at: at}
		f.mu.Unlock()
	}
}

// LastPricer is the REST price source used when the feed has nothing fresh.
type LastPricer interface {
	LastPrice(ctx context.Context, instrument string) (float64, error)
}

// Quotes serves feed prices when fresh and falls back otherwise. A miss also
// subscribes the instrument so later lookups hit the feed.
type Quotes struct {
	feed     *TickerFeed
	fallback LastPricer
}

// NewQuotes combines a feed with a fallback source.
func NewQuotes(feed *TickerFeed, fallback LastPricer) *Quotes {
	return &Quotes{feed: feed, fallback: fallback}
}

// LastPrice returns the latest known price for instrument.
func (q *Quotes) LastPrice(ctx context.Context, instrument string) (float64, error) {
	if p, ok := q.feed.Price(instrument); ok {
		return p, nil
	}
	q.feed.Watch(instrument)
	return q.fallback.LastPrice(ctx, instrument)
}
