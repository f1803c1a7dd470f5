package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over the defaults, loads .env when
// present, applies RISKGATE_* overrides and fills strategy defaults. An empty
// path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyStrategyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy
// time. Strategies are file-only.
func applyEnvOverrides(cfg *Config) {
	// ── OKX ──
	setStr(&cfg.OKX.BaseURL, "RISKGATE_OKX_BASE_URL")
	setStr(&cfg.OKX.APIKey, "RISKGATE_OKX_API_KEY")
	setStr(&cfg.OKX.SecretKey, "RISKGATE_OKX_SECRET_KEY")
	setStr(&cfg.OKX.Passphrase, "RISKGATE_OKX_PASSPHRASE")
	setStr(&cfg.OKX.EncryptedSecretPath, "RISKGATE_OKX_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.OKX.SecretPassword, "RISKGATE_OKX_SECRET_PASSWORD")
	setBool(&cfg.OKX.Simulated, "RISKGATE_OKX_SIMULATED")
	setDuration(&cfg.OKX.Timeout, "RISKGATE_OKX_TIMEOUT")
	setInt(&cfg.OKX.MaxRetries, "RISKGATE_OKX_MAX_RETRIES")
	setDuration(&cfg.OKX.RetryBackoff, "RISKGATE_OKX_RETRY_BACKOFF")
	setBool(&cfg.OKX.TickerFeed, "RISKGATE_OKX_TICKER_FEED")
	setStr(&cfg.OKX.WSURL, "RISKGATE_OKX_WS_URL")

	// ── Regime ──
	setDuration(&cfg.Regime.TTL, "RISKGATE_REGIME_TTL")
	setStringSlice(&cfg.Regime.ReferenceInstruments, "RISKGATE_REGIME_REFERENCE_INSTRUMENTS")
	setStringSlice(&cfg.Regime.PanelLive, "RISKGATE_REGIME_PANEL_LIVE")
	setStringSlice(&cfg.Regime.PanelSimulated, "RISKGATE_REGIME_PANEL_SIMULATED")
	setDuration(&cfg.Regime.MonitorInterval, "RISKGATE_REGIME_MONITOR_INTERVAL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "RISKGATE_LEDGER_BACKEND")
	setStr(&cfg.Ledger.DataDir, "RISKGATE_LEDGER_DATA_DIR")
	setBool(&cfg.Ledger.ReconcileOnStart, "RISKGATE_LEDGER_RECONCILE_ON_START")
	setDuration(&cfg.Ledger.ReconcileInterval, "RISKGATE_LEDGER_RECONCILE_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "RISKGATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "RISKGATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RISKGATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RISKGATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RISKGATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RISKGATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RISKGATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RISKGATE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RISKGATE_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RISKGATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RISKGATE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RISKGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RISKGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RISKGATE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "RISKGATE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RISKGATE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RISKGATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RISKGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RISKGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "RISKGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RISKGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RISKGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RISKGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RISKGATE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RISKGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RISKGATE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "RISKGATE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "RISKGATE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RISKGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RISKGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RISKGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RISKGATE_NOTIFY_EVENTS")
	setStr(&cfg.Notify.Prefix, "RISKGATE_NOTIFY_PREFIX")

	setStr(&cfg.LogLevel, "RISKGATE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
