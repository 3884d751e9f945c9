package services

import (
	"math"
	"testing"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

func TestPricingEngine_ComputeTotals(t *testing.T) {
	engine := NewPricingEngine()

	lines := []domain.SaleLine{
		{ProductID: "p-1", Name: "Widget", Quantity: 2, UnitPrice: 10000},
	}

	totals := engine.ComputeTotals(lines, 0.16)
	if totals.Subtotal != 20000 {
		t.Fatalf("subtotal = %d, want 20000", totals.Subtotal)
	}
	if totals.Discount != 0 {
		t.Fatalf("discount = %d, want 0", totals.Discount)
	}
	if totals.Tax != 3200 {
		t.Fatalf("tax = %d, want 3200", totals.Tax)
	}
	if totals.Total != 23200 {
		t.Fatalf("total = %d, want 23200", totals.Total)
	}
}

func TestPricingEngine_PercentDiscountBeforeTax(t *testing.T) {
	engine := NewPricingEngine()

	lines := []domain.SaleLine{
		{
			ProductID: "p-1",
			Quantity:  2,
			UnitPrice: 10000,
			Discount:  &domain.Discount{Type: domain.DiscountPercent, Value: 10},
		},
	}

	totals := engine.ComputeTotals(lines, 0.16)
	if totals.Discount != 2000 {
		t.Fatalf("discount = %d, want 2000", totals.Discount)
	}
	if totals.Tax != 2880 {
		t.Fatalf("tax = %d, want 2880 (computed on discounted base)", totals.Tax)
	}
	if totals.Total != 20880 {
		t.Fatalf("total = %d, want 20880", totals.Total)
	}
}

func TestPricingEngine_Deterministic(t *testing.T) {
	engine := NewPricingEngine()
	lines := []domain.SaleLine{
		{ProductID: "a", Quantity: 3, UnitPrice: 333},
		{ProductID: "b", Quantity: 1, UnitPrice: 9999, Discount: &domain.Discount{Type: domain.DiscountAmount, Value: 500}},
	}

	first := engine.ComputeTotals(lines, 0.16)
	for i := 0; i < 5; i++ {
		if got := engine.ComputeTotals(lines, 0.16); got != first {
			t.Fatalf("run %d produced %+v, want %+v", i, got, first)
		}
	}
}

func TestPricingEngine_DiscountNeverExceedsLineSubtotal(t *testing.T) {
	engine := NewPricingEngine()

	cases := []struct {
		name string
		line domain.SaleLine
	}{
		{
			name: "amount above subtotal",
			line: domain.SaleLine{ProductID: "a", Quantity: 1, UnitPrice: 1000, Discount: &domain.Discount{Type: domain.DiscountAmount, Value: 5000}},
		},
		{
			name: "percent above hundred",
			line: domain.SaleLine{ProductID: "b", Quantity: 1, UnitPrice: 1000, Discount: &domain.Discount{Type: domain.DiscountPercent, Value: 250}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals := engine.ComputeTotals([]domain.SaleLine{tc.line}, 0.16)
			if totals.Discount != 1000 {
				t.Fatalf("discount = %d, want capped at 1000", totals.Discount)
			}
			if totals.Total != 0 {
				t.Fatalf("total = %d, want 0 for fully discounted line", totals.Total)
			}
		})
	}
}

func TestPricingEngine_ClampsMalformedInput(t *testing.T) {
	engine := NewPricingEngine()

	lines := []domain.SaleLine{
		{ProductID: "neg-qty", Quantity: -3, UnitPrice: 1000},
		{ProductID: "neg-price", Quantity: 2, UnitPrice: -500},
		{ProductID: "ok", Quantity: 1, UnitPrice: 100},
	}

	totals := engine.ComputeTotals(lines, math.NaN())
	if totals.Subtotal != 100 {
		t.Fatalf("subtotal = %d, want 100 (malformed lines ignored)", totals.Subtotal)
	}
	if totals.Tax != 0 {
		t.Fatalf("tax = %d, want 0 for NaN rate", totals.Tax)
	}
	if totals.TaxRate != 0 {
		t.Fatalf("tax rate = %v, want 0", totals.TaxRate)
	}
}

func TestPricingEngine_ZeroRate(t *testing.T) {
	engine := NewPricingEngine()
	lines := []domain.SaleLine{{ProductID: "a", Quantity: 4, UnitPrice: 2500}}

	totals := engine.ComputeTotals(lines, 0)
	if totals.Tax != 0 {
		t.Fatalf("tax = %d, want 0", totals.Tax)
	}
	if totals.Total != 10000 {
		t.Fatalf("total = %d, want 10000", totals.Total)
	}
}
