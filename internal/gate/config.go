package gate

import "github.com/alanyoungcy/riskgate/internal/domain"

// LevelCaps is a per-regime position cap table. It is carried in
// configuration and reported on decisions, but CheckCanOpen enforces only
// Config.MaxPositions.
type LevelCaps struct {
	Level0 int `json:"level0" toml:"level0"`
	Level1 int `json:"level1" toml:"level1"`
	Level2 int `json:"level2" toml:"level2"`
}

// For returns the cap listed for level.
func (c LevelCaps) For(level domain.RegimeLevel) int {
	switch level {
	case domain.RegimeNormal:
		return c.Level0
	case domain.RegimeCaution:
		return c.Level1
	default:
		return c.Level2
	}
}

// Config is the admission policy for one strategy.
type Config struct {
	MaxPositions    int       `json:"max_positions"`
	DrawdownStopPct float64   `json:"drawdown_stop_pct"`
	LevelCaps       LevelCaps `json:"level_caps"`
}

// DefaultConfig returns the stock admission policy.
func DefaultConfig() Config {
	return Config{
		MaxPositions:    3,
		DrawdownStopPct: 20,
		LevelCaps:       LevelCaps{Level0: 3, Level1: 1, Level2: 0},
	}
}

// Override holds optional replacements for Config fields. Nil means keep the
// base value.
type Override struct {
	MaxPositions    *int
	DrawdownStopPct *float64
	LevelCaps       *LevelCaps
}

// Merge returns base with every non-nil field of o applied. Neither argument
// is modified.
func Merge(base Config, o Override) Config {
	out := base
	if o.MaxPositions != nil {
		out.MaxPositions = *o.MaxPositions
	}
	if o.DrawdownStopPct != nil {
		out.DrawdownStopPct = *o.DrawdownStopPct
	}
	if o.LevelCaps != nil {
		out.LevelCaps = *o.LevelCaps
	}
	return out
}
