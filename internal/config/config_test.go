package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Regime.TTL.Duration)
	assert.Equal(t, "file", cfg.Ledger.Backend)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "default", cfg.Strategies[0].Name)
	assert.Equal(t, 10, cfg.Strategies[0].Leverage)

	adm := cfg.Strategies[0].Admission()
	assert.Equal(t, 3, adm.MaxPositions)
	assert.Equal(t, 20.0, adm.DrawdownStopPct)
}

func TestLoadFileAndStrategyOverrides(t *testing.T) {
	path := writeTOML(t, `
log_level = "debug"

[regime]
ttl = "30s"

[regime.thresholds]
member_move_pct = 6

[[strategies]]
name = "trend"
max_positions = 5
leverage = 5

[strategies.level_caps]
level0 = 5
level1 = 2
level2 = 0

[[strategies]]
name = "scalp"
drawdown_stop_pct = 10
margin_mode = "cross"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Regime.TTL.Duration)
	assert.Equal(t, 6.0, cfg.Regime.Thresholds.MemberMovePct)
	assert.Equal(t, 70.0, cfg.Regime.Thresholds.Level2BreadthPct, "unset thresholds keep defaults")

	require.Len(t, cfg.Strategies, 2)
	trend := cfg.Strategies[0].Admission()
	assert.Equal(t, 5, trend.MaxPositions)
	assert.Equal(t, 20.0, trend.DrawdownStopPct)
	assert.Equal(t, 2, trend.LevelCaps.Level1)
	assert.Equal(t, 5, cfg.Strategies[0].Leverage)

	scalp := cfg.Strategies[1]
	assert.Equal(t, 3, scalp.Admission().MaxPositions)
	assert.Equal(t, 10.0, scalp.Admission().DrawdownStopPct)
	assert.Equal(t, "cross", scalp.MarginMode)
	assert.Equal(t, 10, scalp.Leverage)
	assert.Equal(t, 20.0, scalp.SingleSymbolMaxMarginPct)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RISKGATE_OKX_API_KEY", "key")
	t.Setenv("RISKGATE_OKX_SECRET_KEY", "secret")
	t.Setenv("RISKGATE_OKX_PASSPHRASE", "pass")
	t.Setenv("RISKGATE_OKX_SIMULATED", "false")
	t.Setenv("RISKGATE_REGIME_TTL", "12s")
	t.Setenv("RISKGATE_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RISKGATE_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "key", cfg.OKX.APIKey)
	assert.False(t, cfg.OKX.Simulated)
	assert.Equal(t, 12*time.Second, cfg.Regime.TTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8080, cfg.Server.Port, "unparseable values are ignored")
	assert.Len(t, cfg.Panel(), 15)
	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", cfg.OKX.PublicWSURL())
}

func TestLoadBadFile(t *testing.T) {
	path := writeTOML(t, `[regime]
ttl = "soon"`)
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	zero := 0
	cfg.Strategies = []StrategyConfig{
		{Name: "a", MaxPositions: &zero, MarginMode: "isolated"},
		{Name: "a", MarginMode: "hedged"},
	}
	cfg.Ledger.Backend = "sqlite"
	cfg.OKX.APIKey = "k"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"max_positions must be >= 1",
		"duplicate name",
		`unknown margin_mode "hedged"`,
		`unknown backend "sqlite"`,
		"passphrase is required",
		`unknown log_level "loud"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidatePostgresBackend(t *testing.T) {
	cfg := Defaults()
	applyStrategyDefaults(&cfg)
	cfg.Ledger.Backend = "postgres"
	cfg.Postgres.Host = ""
	assert.ErrorContains(t, cfg.Validate(), "postgres: host must not be empty")

	cfg.Postgres.DSN = "postgres://u:p@db/riskgate"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.OKX.SecretKey = "s3cret"
	cfg.Postgres.DSN = "postgres://u:p@db/x"
	cfg.Server.APIKey = "admin"
	cfg.Notify.Events = []string{"order_opened"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.OKX.SecretKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.OKX.Passphrase, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "s3cret", cfg.OKX.SecretKey)
	assert.Equal(t, "order_opened", cfg.Notify.Events[0])
}
