package domain

import "time"

// RegimeLevel is the 0/1/2 market risk classification.
type RegimeLevel int

const (
	RegimeNormal  RegimeLevel = 0
	RegimeCaution RegimeLevel = 1
	RegimeDanger  RegimeLevel = 2
)

func (l RegimeLevel) String() string {
	switch l {
	case RegimeNormal:
		return "normal"
	case RegimeCaution:
		return "caution"
	case RegimeDanger:
		return "danger"
	default:
		return "unknown"
	}
}

// InstrumentChange is a 24h relative price change for one instrument.
type InstrumentChange struct {
	Instrument string  `json:"instrument"`
	ChangePct  float64 `json:"change_pct"`
}

// RegimeMetrics is the measurement bundle a classification was made from.
type RegimeMetrics struct {
	ReferenceChanges []InstrumentChange `json:"reference_changes"`
	ATRPct           float64            `json:"atr_pct"`
	MADeviationPct   float64            `json:"ma_deviation_pct"`
	PanelSize        int                `json:"panel_size"`
	DroppingCount    int                `json:"dropping_count"`
	RisingCount      int                `json:"rising_count"`
	DropPct          float64            `json:"drop_pct"`
	RisePct          float64            `json:"rise_pct"`
}

// RegimeSnapshot is one classification result. It is trusted for a fixed TTL
// after ComputedAt.
type RegimeSnapshot struct {
	Level          RegimeLevel   `json:"level"`
	Reason         string        `json:"reason"`
	Recommendation string        `json:"recommendation"`
	Metrics        RegimeMetrics `json:"metrics"`
	ComputedAt     time.Time     `json:"computed_at"`
	Degraded       bool          `json:"degraded,omitempty"`
}

// Fresh reports whether the snapshot is still within ttl at now.
func (s RegimeSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return !s.ComputedAt.IsZero() && now.Sub(s.ComputedAt) <= ttl
}
