package okx

import (
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/shopspring/decimal"
)

// ContractSize converts a base-asset quantity into a contract count: divide
// by face value, floor to the lot size, then raise to the minimum size.
func ContractSize(quantity float64, spec domain.Instrument) decimal.Decimal {
	face := positiveOr(spec.FaceValue, 1)
	lot := positiveOr(spec.LotSize, 1)
	minSz := decimal.NewFromFloat(spec.MinSize)

	contracts := decimal.NewFromFloat(quantity).Div(face)
	n := contracts.Div(lot).Floor().Mul(lot)
	if n.LessThan(minSz) {
		n = minSz
	}
	return n
}

// BaseQuantity converts a contract count back to base-asset units.
func BaseQuantity(contracts float64, spec domain.Instrument) float64 {
	q, _ := decimal.NewFromFloat(contracts).Mul(positiveOr(spec.FaceValue, 1)).Float64()
	return q
}

func positiveOr(v, fallback float64) decimal.Decimal {
	if v <= 0 {
		return decimal.NewFromFloat(fallback)
	}
	return decimal.NewFromFloat(v)
}

// parseNum parses an exchange numeric string. Empty or malformed values
// yield 0.
func parseNum(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
