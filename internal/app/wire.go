package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/riskgate/internal/blob/s3"
	"github.com/alanyoungcy/riskgate/internal/cache/redis"
	"github.com/alanyoungcy/riskgate/internal/config"
	"github.com/alanyoungcy/riskgate/internal/crypto"
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/feed"
	"github.com/alanyoungcy/riskgate/internal/gate"
	"github.com/alanyoungcy/riskgate/internal/ledger"
	"github.com/alanyoungcy/riskgate/internal/metrics"
	"github.com/alanyoungcy/riskgate/internal/notify"
	"github.com/alanyoungcy/riskgate/internal/platform/okx"
	"github.com/alanyoungcy/riskgate/internal/queue"
	"github.com/alanyoungcy/riskgate/internal/regime"
	"github.com/alanyoungcy/riskgate/internal/server/handler"
	"github.com/alanyoungcy/riskgate/internal/service"
	"github.com/alanyoungcy/riskgate/internal/store/file"
	"github.com/alanyoungcy/riskgate/internal/store/postgres"
)

// Dependencies bundles everything the run loop and the one-shot commands
// need. Optional parts are nil when their backend is disabled.
type Dependencies struct {
	Exchange   *okx.Client
	Feed       *feed.TickerFeed
	Detector   *regime.Detector
	Strategies []*service.TradeService
	Events     *service.Events
	Metrics    *metrics.Metrics

	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Archiver *s3blob.Archiver

	// Checks back the health endpoint, keyed by backend name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL (ledger backend and/or audit log) ---
	var pool *postgres.Client
	if cfg.Postgres.Enabled || cfg.Ledger.Backend == "postgres" {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ApplicationName: cfg.Postgres.ApplicationName,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool = pg
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Ledger store ---
	var store domain.LedgerStore
	switch cfg.Ledger.Backend {
	case "postgres":
		store = postgres.NewLedgerStore(pool.Pool())
	default:
		fs, err := file.NewLedgerStore(cfg.Ledger.DataDir)
		if err != nil {
			return fail("ledger store", err)
		}
		store = fs
	}

	// --- Redis (event bus, intent stream, regime cache) ---
	var regimes domain.RegimeCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Bus = redis.NewSignalBus(rc)
		regimes = redis.NewRegimeCache(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(sc, int64(cfg.S3.PartSizeMB)<<20),
			s3blob.NewReader(sc),
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = sc.Health
	}

	// --- Exchange ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.OKX.SecretKey,
		EncryptedPath: cfg.OKX.EncryptedSecretPath,
		Password:      cfg.OKX.SecretPassword,
	})
	if err != nil && cfg.OKX.APIKey != "" {
		return fail("okx secret", err)
	}
	deps.Exchange = okx.NewClient(okx.Config{
		BaseURL: cfg.OKX.BaseURL,
		Auth: crypto.HMACAuth{
			Key:        cfg.OKX.APIKey,
			Secret:     secret,
			Passphrase: cfg.OKX.Passphrase,
			Simulated:  cfg.OKX.Simulated,
		},
		Timeout:      cfg.OKX.Timeout.Duration,
		MaxRetries:   cfg.OKX.MaxRetries,
		RetryBackoff: cfg.OKX.RetryBackoff.Duration,
	}, logger, okx.WithObserver(deps.Metrics))

	// --- Regime detector ---
	th := cfg.Regime.Thresholds
	deps.Detector = regime.New(deps.Exchange, regime.Config{
		ReferenceInstruments: cfg.Regime.ReferenceInstruments,
		VolatilityInstrument: cfg.Regime.VolatilityInstrument,
		Panel:                cfg.Panel(),
		Bar:                  cfg.Regime.Bar,
		ChangeLookback:       cfg.Regime.ChangeLookback,
		ATRPeriod:            cfg.Regime.ATRPeriod,
		MAPeriod:             cfg.Regime.MAPeriod,
		TTL:                  cfg.Regime.TTL.Duration,
		FetchConcurrency:     cfg.Regime.FetchConcurrency,
		Thresholds: regime.Thresholds{
			MemberMovePct:        th.MemberMovePct,
			Level2BreadthPct:     th.Level2BreadthPct,
			Level1BreadthPct:     th.Level1BreadthPct,
			Level2RefChangePct:   th.Level2RefChangePct,
			Level1RefChangePct:   th.Level1RefChangePct,
			Level1MADeviationPct: th.Level1MADeviationPct,
		},
	}, logger)
	deps.Checks["regime"] = func(context.Context) error {
		if snap, ok := deps.Detector.Cached(); ok && snap.Degraded {
			return errors.New(snap.Reason)
		}
		return nil
	}

	// --- Events ---
	deps.Events = &service.Events{
		Bus:     deps.Bus,
		Regimes: regimes,
		Audit:   deps.Audit,
		Metrics: deps.Metrics,
		Logger:  logger,
	}
	if n := newNotifier(cfg.Notify, logger); n.Enabled() {
		deps.Events.Notifier = n
	}

	// --- Ticker feed ---
	var exchange service.Exchange = deps.Exchange
	if cfg.OKX.TickerFeed {
		deps.Feed = feed.NewTickerFeed(cfg.OKX.PublicWSURL(), cfg.Regime.ReferenceInstruments,
			cfg.OKX.TickerMaxAge.Duration, logger)
		exchange = pricedExchange{Client: deps.Exchange, quotes: feed.NewQuotes(deps.Feed, deps.Exchange)}
	}

	// --- Strategies ---
	for _, sc := range cfg.Strategies {
		l, err := ledger.New(ctx, sc.Name, store, logger)
		if err != nil {
			return fail("ledger "+sc.Name, err)
		}
		g := gate.New(l, deps.Detector, deps.Exchange, logger)
		q := queue.New[domain.Decision](sc.Name, deps.Metrics, logger)
		deps.Strategies = append(deps.Strategies, service.NewTradeService(
			service.StrategyConfig{
				Name:                     sc.Name,
				Admission:                sc.Admission(),
				Leverage:                 sc.Leverage,
				MarginMode:               sc.MarginMode,
				SingleSymbolMaxMarginPct: sc.SingleSymbolMaxMarginPct,
				TakeProfitPct:            sc.TakeProfitPct,
				StopLossPct:              sc.StopLossPct,
				AttachTPSL:               sc.AttachTPSL,
			},
			q, l, g, exchange, deps.Events, logger,
		))
		deps.Metrics.ActivePositions(sc.Name, l.ActiveCount())
		if deps.Feed != nil {
			for _, p := range l.Active() {
				deps.Feed.Watch(p.Instrument)
			}
		}
	}

	return deps, cleanup, nil
}

// pricedExchange reads last prices through the ticker feed.
type pricedExchange struct {
	*okx.Client
	quotes *feed.Quotes
}

func (p pricedExchange) LastPrice(ctx context.Context, instrument string) (float64, error) {
	return p.quotes.LastPrice(ctx, instrument)
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, cfg.Prefix, logger)
}

// Strategy returns the named strategy service.
func (d *Dependencies) Strategy(name string) (*service.TradeService, bool) {
	for _, s := range d.Strategies {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
