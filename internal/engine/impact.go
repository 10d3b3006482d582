package engine

import "github.com/shopspring/decimal"

// ImpactPolicy computes the absolute price move caused by a single trade.
// Buys move the price up by the shift, sells move it down.
type ImpactPolicy interface {
	Shift(quantity decimal.Decimal) decimal.Decimal
}

// FlatImpact moves the price by a fixed step per trade, regardless of order
// size.
type FlatImpact struct {
	Step decimal.Decimal
}

func (p FlatImpact) Shift(decimal.Decimal) decimal.Decimal {
	return p.Step
}

// ProportionalImpact moves the price by Factor per unit traded.
type ProportionalImpact struct {
	Factor decimal.Decimal
}

func (p ProportionalImpact) Shift(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(p.Factor)
}

// DefaultImpact is the flat 0.0005 step applied when no policy is configured.
func DefaultImpact() ImpactPolicy {
	return FlatImpact{Step: decimal.RequireFromString("0.0005")}
}
