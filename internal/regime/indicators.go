package regime

import (
	"math"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

// changePct returns the percentage change from bars[lookback] to bars[0].
// Fewer than lookback+1 bars yields 0.
func changePct(bars []domain.Bar, lookback int) float64 {
	if lookback <= 0 || len(bars) < lookback+1 {
		return 0
	}
	base := bars[lookback].Close
	if base == 0 {
		return 0
	}
	return (bars[0].Close - base) / base * 100
}

// atrPct returns the average true range over period bars as a percentage of
// the latest close. Each true range uses the following (older) bar's close.
func atrPct(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 || bars[0].Close == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < period; i++ {
		prevClose := bars[i+1].Close
		tr := math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
		sum += tr
	}
	return sum / float64(period) / bars[0].Close * 100
}

// maDeviationPct returns |close - MA(period)| / MA(period) as a percentage.
// Fewer than period bars yields 0.
func maDeviationPct(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	var sum float64
	for _, b := range bars[:period] {
		sum += b.Close
	}
	ma := sum / float64(period)
	if ma == 0 {
		return 0
	}
	return math.Abs(bars[0].Close-ma) / ma * 100
}
