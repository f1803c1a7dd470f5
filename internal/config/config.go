// Package config defines the riskgate configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/riskgate/internal/gate"
)

// Config is the root configuration. Fields come from defaults, then a TOML
// file, then RISKGATE_* environment variables.
type Config struct {
	OKX        OKXConfig        `toml:"okx"`
	Regime     RegimeConfig     `toml:"regime"`
	Strategies []StrategyConfig `toml:"strategies"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	LogLevel   string           `toml:"log_level"`
}

// OKXConfig holds exchange endpoint, credentials and retry policy. The
// secret comes either from secret_key or from an encrypted file.
type OKXConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	SecretKey           string   `toml:"secret_key"`
	Passphrase          string   `toml:"passphrase"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Simulated           bool     `toml:"simulated"`
	Timeout             duration `toml:"timeout"`
	MaxRetries          int      `toml:"max_retries"`
	RetryBackoff        duration `toml:"retry_backoff"`
	TickerFeed          bool     `toml:"ticker_feed"`
	WSURL               string   `toml:"ws_url"`
	TickerMaxAge        duration `toml:"ticker_max_age"`
}

// PublicWSURL returns the public websocket endpoint, derived from the trading
// mode unless ws_url is set.
func (o OKXConfig) PublicWSURL() string {
	switch {
	case o.WSURL != "":
		return o.WSURL
	case o.Simulated:
		return "wss://wspap.okx.com:8443/ws/v5/public"
	default:
		return "wss://ws.okx.com:8443/ws/v5/public"
	}
}

// RegimeConfig controls market regime sampling.
type RegimeConfig struct {
	TTL                  duration         `toml:"ttl"`
	ReferenceInstruments []string         `toml:"reference_instruments"`
	VolatilityInstrument string           `toml:"volatility_instrument"`
	PanelLive            []string         `toml:"panel_live"`
	PanelSimulated       []string         `toml:"panel_simulated"`
	Bar                  string           `toml:"bar"`
	ChangeLookback       int              `toml:"change_lookback"`
	ATRPeriod            int              `toml:"atr_period"`
	MAPeriod             int              `toml:"ma_period"`
	FetchConcurrency     int              `toml:"fetch_concurrency"`
	MonitorInterval      duration         `toml:"monitor_interval"`
	Thresholds           ThresholdsConfig `toml:"thresholds"`
}

// ThresholdsConfig holds the classification cut-offs, in percent.
type ThresholdsConfig struct {
	MemberMovePct        float64 `toml:"member_move_pct"`
	Level2BreadthPct     float64 `toml:"level2_breadth_pct"`
	Level1BreadthPct     float64 `toml:"level1_breadth_pct"`
	Level2RefChangePct   float64 `toml:"level2_ref_change_pct"`
	Level1RefChangePct   float64 `toml:"level1_ref_change_pct"`
	Level1MADeviationPct float64 `toml:"level1_ma_deviation_pct"`
}

// Panel returns the breadth panel for the configured mode.
func (c *Config) Panel() []string {
	if c.OKX.Simulated {
		return c.Regime.PanelSimulated
	}
	return c.Regime.PanelLive
}

// StrategyConfig is one [[strategies]] entry. Admission fields left unset
// fall back to gate.DefaultConfig.
type StrategyConfig struct {
	Name                     string          `toml:"name"`
	MaxPositions             *int            `toml:"max_positions"`
	DrawdownStopPct          *float64        `toml:"drawdown_stop_pct"`
	LevelCaps                *gate.LevelCaps `toml:"level_caps"`
	Leverage                 int             `toml:"leverage"`
	MarginMode               string          `toml:"margin_mode"`
	SingleSymbolMaxMarginPct float64         `toml:"single_symbol_max_margin_pct"`
	TakeProfitPct            float64         `toml:"take_profit_pct"`
	StopLossPct              float64         `toml:"stop_loss_pct"`
	AttachTPSL               bool            `toml:"attach_tp_sl"`
}

// Admission merges the strategy's admission fields over the defaults.
func (s StrategyConfig) Admission() gate.Config {
	return gate.Merge(gate.DefaultConfig(), gate.Override{
		MaxPositions:    s.MaxPositions,
		DrawdownStopPct: s.DrawdownStopPct,
		LevelCaps:       s.LevelCaps,
	})
}

// LedgerConfig selects ledger persistence and reconciliation cadence.
type LedgerConfig struct {
	Backend           string   `toml:"backend"`
	DataDir           string   `toml:"data_dir"`
	ReconcileOnStart  bool     `toml:"reconcile_on_start"`
	ReconcileInterval duration `toml:"reconcile_interval"`
}

// PostgresConfig holds connection parameters for the postgres backend and
// the audit log.
type PostgresConfig struct {
	Enabled         bool   `toml:"enabled"`
	DSN             string `toml:"dsn"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Database        string `toml:"database"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	SSLMode         string `toml:"ssl_mode"`
	PoolMaxConns    int    `toml:"pool_max_conns"`
	PoolMinConns    int    `toml:"pool_min_conns"`
	ApplicationName string `toml:"application_name"`
	RunMigrations   bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	IntakePoll duration `toml:"intake_poll"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	PartSizeMB      int      `toml:"part_size_mb"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig controls the admin HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig configures alert channels. Empty events allows all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Prefix            string   `toml:"prefix"`
}

// Defaults returns the built-in configuration. Strategy entries get their
// own defaults in Load since TOML replaces the whole array.
func Defaults() Config {
	return Config{
		OKX: OKXConfig{
			BaseURL:      "https://www.okx.com",
			Simulated:    true,
			Timeout:      duration{15 * time.Second},
			MaxRetries:   2,
			RetryBackoff: duration{2 * time.Second},
			TickerMaxAge: duration{10 * time.Second},
		},
		Regime: RegimeConfig{
			TTL:                  duration{5 * time.Second},
			ReferenceInstruments: []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"},
			VolatilityInstrument: "BTC-USDT-SWAP",
			PanelLive: []string{
				"WIF-USDT-SWAP", "PEPE-USDT-SWAP", "BONK-USDT-SWAP", "DOGE-USDT-SWAP", "SHIB-USDT-SWAP",
				"FLOKI-USDT-SWAP", "BOME-USDT-SWAP", "TRUMP-USDT-SWAP", "PNUT-USDT-SWAP", "ACT-USDT-SWAP",
				"MOODENG-USDT-SWAP", "GOAT-USDT-SWAP", "PEOPLE-USDT-SWAP", "TURBO-USDT-SWAP", "MEW-USDT-SWAP",
			},
			PanelSimulated: []string{
				"WIF-USDT-SWAP", "PEPE-USDT-SWAP", "DOGE-USDT-SWAP", "SHIB-USDT-SWAP",
				"FLOKI-USDT-SWAP", "BOME-USDT-SWAP", "ACT-USDT-SWAP", "TURBO-USDT-SWAP",
			},
			Bar:              "1H",
			ChangeLookback:   24,
			ATRPeriod:        24,
			MAPeriod:         200,
			FetchConcurrency: 4,
			MonitorInterval:  duration{5 * time.Minute},
			Thresholds: ThresholdsConfig{
				MemberMovePct:        5,
				Level2BreadthPct:     70,
				Level1BreadthPct:     50,
				Level2RefChangePct:   8,
				Level1RefChangePct:   5,
				Level1MADeviationPct: 4,
			},
		},
		Ledger: LedgerConfig{
			Backend:           "file",
			DataDir:           "data",
			ReconcileOnStart:  true,
			ReconcileInterval: duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "riskgate",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    1,
			ApplicationName: "riskgate",
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "riskgate",
			IntakePoll: duration{time.Second},
		},
		S3: S3Config{
			Region:          "us-east-1",
			Bucket:          "riskgate-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
			PartSizeMB:      5,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"order_opened", "order_closed", "order_failed", "regime_change", "reconcile_drift"},
		},
		LogLevel: "info",
	}
}

// DefaultStrategy returns the values applied to unset strategy fields.
func DefaultStrategy(name string) StrategyConfig {
	return StrategyConfig{
		Name:                     name,
		Leverage:                 10,
		MarginMode:               "isolated",
		SingleSymbolMaxMarginPct: 20,
	}
}

// applyStrategyDefaults fills zero-valued trading fields. A config with no
// strategies gets a single "default" strategy.
func applyStrategyDefaults(cfg *Config) {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []StrategyConfig{DefaultStrategy("default")}
		return
	}
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		d := DefaultStrategy(s.Name)
		if s.Leverage == 0 {
			s.Leverage = d.Leverage
		}
		if s.MarginMode == "" {
			s.MarginMode = d.MarginMode
		}
		if s.SingleSymbolMaxMarginPct == 0 {
			s.SingleSymbolMaxMarginPct = d.SingleSymbolMaxMarginPct
		}
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"file":     true,
	"postgres": true,
}

var validMarginModes = map[string]bool{
	"isolated": true,
	"cross":    true,
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// OKX
	if c.OKX.BaseURL == "" {
		errs = append(errs, "okx: base_url must not be empty")
	}
	if c.OKX.APIKey != "" {
		if c.OKX.SecretKey == "" && c.OKX.EncryptedSecretPath == "" {
			errs = append(errs, "okx: secret_key or encrypted_secret_path is required when api_key is set")
		}
		if c.OKX.Passphrase == "" {
			errs = append(errs, "okx: passphrase is required when api_key is set")
		}
	}
	if c.OKX.EncryptedSecretPath != "" && c.OKX.SecretPassword == "" {
		errs = append(errs, "okx: secret_password is required when encrypted_secret_path is set")
	}
	if c.OKX.Timeout.Duration <= 0 {
		errs = append(errs, "okx: timeout must be > 0")
	}
	if c.OKX.MaxRetries < 0 {
		errs = append(errs, "okx: max_retries must be >= 0")
	}
	if c.OKX.TickerFeed && c.OKX.TickerMaxAge.Duration <= 0 {
		errs = append(errs, "okx: ticker_max_age must be > 0 when ticker_feed is enabled")
	}

	// Regime
	r := c.Regime
	if r.TTL.Duration <= 0 {
		errs = append(errs, "regime: ttl must be > 0")
	}
	if len(r.ReferenceInstruments) == 0 {
		errs = append(errs, "regime: reference_instruments must not be empty")
	}
	if r.VolatilityInstrument == "" {
		errs = append(errs, "regime: volatility_instrument must not be empty")
	}
	if len(c.Panel()) == 0 {
		errs = append(errs, "regime: panel for the current mode must not be empty")
	}
	if r.Bar == "" {
		errs = append(errs, "regime: bar must not be empty")
	}
	if r.ChangeLookback < 1 || r.ATRPeriod < 1 || r.MAPeriod < 1 {
		errs = append(errs, "regime: change_lookback, atr_period and ma_period must be >= 1")
	}
	th := r.Thresholds
	if th.Level2BreadthPct < th.Level1BreadthPct {
		errs = append(errs, "regime: level2_breadth_pct must be >= level1_breadth_pct")
	}
	if th.Level2RefChangePct < th.Level1RefChangePct {
		errs = append(errs, "regime: level2_ref_change_pct must be >= level1_ref_change_pct")
	}

	// Strategies
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		label := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else {
			label = "strategy " + s.Name
			if seen[s.Name] {
				errs = append(errs, label+": duplicate name")
			}
			seen[s.Name] = true
		}
		adm := s.Admission()
		if adm.MaxPositions < 1 {
			errs = append(errs, label+": max_positions must be >= 1")
		}
		if adm.DrawdownStopPct <= 0 || adm.DrawdownStopPct > 100 {
			errs = append(errs, fmt.Sprintf("%s: drawdown_stop_pct must be in (0, 100], got %g", label, adm.DrawdownStopPct))
		}
		if s.Leverage < 0 {
			errs = append(errs, label+": leverage must be >= 0")
		}
		if !validMarginModes[s.MarginMode] {
			errs = append(errs, fmt.Sprintf("%s: unknown margin_mode %q (valid: isolated, cross)", label, s.MarginMode))
		}
		if s.SingleSymbolMaxMarginPct < 0 || s.TakeProfitPct < 0 || s.StopLossPct < 0 {
			errs = append(errs, label+": percentages must be >= 0")
		}
	}

	// Ledger
	if !validBackends[c.Ledger.Backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: file, postgres)", c.Ledger.Backend))
	}
	if c.Ledger.Backend == "file" && c.Ledger.DataDir == "" {
		errs = append(errs, "ledger: data_dir must not be empty for the file backend")
	}
	if c.Ledger.ReconcileInterval.Duration < 0 {
		errs = append(errs, "ledger: reconcile_interval must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled || c.Ledger.Backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
