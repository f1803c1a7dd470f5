package regime

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// Thresholds drive classification. All values are percentages.
type Thresholds struct {
	MemberMovePct        float64
	Level2BreadthPct     float64
	Level1BreadthPct     float64
	Level2RefChangePct   float64
	Level1RefChangePct   float64
	Level1MADeviationPct float64
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemberMovePct:        5,
		Level2BreadthPct:     70,
		Level1BreadthPct:     50,
		Level2RefChangePct:   8,
		Level1RefChangePct:   5,
		Level1MADeviationPct: 4,
	}
}

const normalReason = "market normal"

// Classify maps metrics to a level and a reason built from every condition
// that triggered, in order: breadth, reference price change, MA deviation.
func Classify(m domain.RegimeMetrics, th Thresholds) (domain.RegimeLevel, string) {
	var reasons []string

	breadth := func(pct float64, count int, severe, mild string) {
		switch {
		case pct >= th.Level2BreadthPct:
			reasons = append(reasons, fmt.Sprintf("%s: %.0f%% of panel (%d/%d) moved beyond %.0f%%",
				severe, pct, count, m.PanelSize, th.MemberMovePct))
		case pct >= th.Level1BreadthPct:
			reasons = append(reasons, fmt.Sprintf("%s: %.0f%% of panel (%d/%d) moved beyond %.0f%%",
				mild, pct, count, m.PanelSize, th.MemberMovePct))
		}
	}
	breadth(m.DropPct, m.DroppingCount, "systemic drop", "broad decline")
	breadth(m.RisePct, m.RisingCount, "systemic rally", "broad rally")

	var maxRef float64
	for _, rc := range m.ReferenceChanges {
		abs := math.Abs(rc.ChangePct)
		maxRef = math.Max(maxRef, abs)
		if abs > th.Level1RefChangePct {
			dir := "up"
			if rc.ChangePct < 0 {
				dir = "down"
			}
			reasons = append(reasons, fmt.Sprintf("%s %s %.2f%% in 24h", rc.Instrument, dir, abs))
		}
	}

	if m.MADeviationPct > th.Level1MADeviationPct {
		reasons = append(reasons, fmt.Sprintf("price %.2f%% away from moving average", m.MADeviationPct))
	}

	level := domain.RegimeNormal
	switch {
	case m.DropPct >= th.Level2BreadthPct || m.RisePct >= th.Level2BreadthPct || maxRef > th.Level2RefChangePct:
		level = domain.RegimeDanger
	case m.DropPct >= th.Level1BreadthPct || m.RisePct >= th.Level1BreadthPct ||
		maxRef > th.Level1RefChangePct || m.MADeviationPct > th.Level1MADeviationPct:
		level = domain.RegimeCaution
	}

	if len(reasons) == 0 {
		return level, normalReason
	}
	return level, strings.Join(reasons, "; ")
}

// Recommendation returns the operator guidance for a level.
func Recommendation(level domain.RegimeLevel) string {
	switch level {
	case domain.RegimeDanger:
		return "no new positions; consider reducing exposure"
	case domain.RegimeCaution:
		return "limit new positions (at most one)"
	default:
		return "normal trading"
	}
}
