package services

import (
	"math"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

// PricingEngine computes totals from sale lines and a tax rate. It is pure
// and deterministic: no storage, no network, no failure path. Malformed
// inputs (negative quantity, negative price, NaN rate) clamp to zero instead
// of propagating, so the register always has a figure to display.
type PricingEngine struct{}

// NewPricingEngine constructs the engine.
func NewPricingEngine() *PricingEngine { return &PricingEngine{} }

// ComputeTotals derives subtotal, discount, tax and total in minor units.
// Identical inputs always yield identical outputs.
func (e *PricingEngine) ComputeTotals(lines []domain.SaleLine, taxRate float64) domain.Totals {
	rate := sanitizeRate(taxRate)

	var subtotal, discountTotal int64
	for _, line := range lines {
		lineSubtotal := lineSubtotal(line)
		subtotal += lineSubtotal
		discountTotal += lineDiscount(line, lineSubtotal)
	}

	base := subtotal - discountTotal
	if base < 0 {
		base = 0
	}

	tax := roundToMinorUnit(float64(base) * rate)
	return domain.Totals{
		Subtotal: subtotal,
		Discount: discountTotal,
		Tax:      tax,
		Total:    base + tax,
		TaxRate:  rate,
	}
}

func lineSubtotal(line domain.SaleLine) int64 {
	quantity := int64(line.Quantity)
	if quantity <= 0 {
		return 0
	}
	if line.UnitPrice <= 0 {
		return 0
	}
	if line.UnitPrice > math.MaxInt64/quantity {
		return math.MaxInt64
	}
	return line.UnitPrice * quantity
}

// lineDiscount resolves a line discount to an absolute amount, capped at the
// line's own subtotal.
func lineDiscount(line domain.SaleLine, subtotal int64) int64 {
	if line.Discount == nil || subtotal <= 0 {
		return 0
	}

	value := line.Discount.Value
	if value <= 0 {
		return 0
	}

	var amount int64
	switch line.Discount.Type {
	case domain.DiscountPercent:
		pct := float64(value)
		if pct > 100 {
			pct = 100
		}
		amount = roundToMinorUnit(float64(subtotal) * pct / 100)
	case domain.DiscountAmount:
		amount = value
	default:
		return 0
	}

	if amount > subtotal {
		amount = subtotal
	}
	return amount
}

func sanitizeRate(rate float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0
	}
	return rate
}

func roundToMinorUnit(value float64) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}
