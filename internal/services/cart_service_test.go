package services

import (
	"errors"
	"testing"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestCartService_AddLineMergesByProduct(t *testing.T) {
	cart := NewCartService()

	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Name: "Widget", Quantity: 2, UnitPrice: 10000}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}
	sale, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Name: "Widget", Quantity: 3, UnitPrice: 10000})
	if err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	if len(sale.Lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(sale.Lines))
	}
	if sale.Lines[0].Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", sale.Lines[0].Quantity)
	}
}

func TestCartService_SerialLinesNeverMerge(t *testing.T) {
	cart := NewCartService()

	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 50000, Serial: "SN-A"}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}
	sale, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 50000, Serial: "SN-B"})
	if err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	if len(sale.Lines) != 2 {
		t.Fatalf("expected separate serialised lines, got %d", len(sale.Lines))
	}
}

func TestCartService_AddLineValidation(t *testing.T) {
	cart := NewCartService()

	cases := []struct {
		name string
		line domain.SaleLine
	}{
		{"missing product", domain.SaleLine{Quantity: 1, UnitPrice: 100}},
		{"zero quantity", domain.SaleLine{ProductID: "p", Quantity: 0, UnitPrice: 100}},
		{"negative price", domain.SaleLine{ProductID: "p", Quantity: 1, UnitPrice: -5}},
		{"percent above hundred", domain.SaleLine{ProductID: "p", Quantity: 1, UnitPrice: 100, Discount: &domain.Discount{Type: domain.DiscountPercent, Value: 101}}},
		{"negative amount discount", domain.SaleLine{ProductID: "p", Quantity: 1, UnitPrice: 100, Discount: &domain.Discount{Type: domain.DiscountAmount, Value: -1}}},
		{"unknown discount type", domain.SaleLine{ProductID: "p", Quantity: 1, UnitPrice: 100, Discount: &domain.Discount{Type: "bogus", Value: 5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := cart.AddLine(tc.line); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected ErrCartInvalidInput, got %v", err)
			}
		})
	}
	if sale := cart.Snapshot(); !sale.Empty() {
		t.Fatalf("rejected input must not mutate the sale")
	}
}

func TestCartService_UpdateLineQuantityZeroRemoves(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 2, UnitPrice: 100}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	sale, err := cart.UpdateLine("p-1", "", LinePatch{Quantity: intPtr(0)})
	if err != nil {
		t.Fatalf("UpdateLine error: %v", err)
	}
	if !sale.Empty() {
		t.Fatalf("expected empty sale, got %d lines", len(sale.Lines))
	}
}

func TestCartService_UpdateMissingLineIsNoop(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 100}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	sale, err := cart.UpdateLine("ghost", "", LinePatch{Quantity: intPtr(9)})
	if err != nil {
		t.Fatalf("UpdateLine error: %v", err)
	}
	if len(sale.Lines) != 1 || sale.Lines[0].ProductID != "p-1" || sale.Lines[0].Quantity != 1 {
		t.Fatalf("no-op update changed the sale: %+v", sale.Lines)
	}
}

func TestCartService_UpdateLinePatchesFields(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 100}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	sale, err := cart.UpdateLine("p-1", "", LinePatch{
		Quantity:  intPtr(4),
		UnitPrice: int64Ptr(250),
		Discount:  &domain.Discount{Type: domain.DiscountPercent, Value: 10},
	})
	if err != nil {
		t.Fatalf("UpdateLine error: %v", err)
	}

	line := sale.Lines[0]
	if line.Quantity != 4 || line.UnitPrice != 250 {
		t.Fatalf("unexpected line %+v", line)
	}
	if line.Discount == nil || line.Discount.Value != 10 {
		t.Fatalf("discount not applied: %+v", line.Discount)
	}

	sale, err = cart.UpdateLine("p-1", "", LinePatch{ClearDiscount: true})
	if err != nil {
		t.Fatalf("UpdateLine error: %v", err)
	}
	if sale.Lines[0].Discount != nil {
		t.Fatalf("discount not cleared")
	}
}

func TestCartService_RemoveLine(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 100}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-2", Quantity: 1, UnitPrice: 200}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	sale, err := cart.RemoveLine("p-1", "")
	if err != nil {
		t.Fatalf("RemoveLine error: %v", err)
	}
	if len(sale.Lines) != 1 || sale.Lines[0].ProductID != "p-2" {
		t.Fatalf("unexpected lines after remove: %+v", sale.Lines)
	}

	// Removing again is a no-op.
	if sale, err = cart.RemoveLine("p-1", ""); err != nil || len(sale.Lines) != 1 {
		t.Fatalf("repeat remove: lines=%d err=%v", len(sale.Lines), err)
	}
}

func TestCartService_SetPaymentsValidation(t *testing.T) {
	cart := NewCartService()

	if _, err := cart.SetPayments([]domain.Payment{{Type: "wire", Amount: 100}}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for unknown type, got %v", err)
	}
	if _, err := cart.SetPayments([]domain.Payment{{Type: domain.PaymentCash, Amount: 0}}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for zero amount, got %v", err)
	}
	if _, err := cart.SetPayments([]domain.Payment{{Type: domain.PaymentCard, Amount: 100}}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for card without terminal, got %v", err)
	}

	sale, err := cart.SetPayments([]domain.Payment{
		{Type: domain.PaymentCash, Amount: 5000},
		{Type: domain.PaymentCard, Amount: 7000, TerminalID: "term-1", Reference: "AUTH123"},
	})
	if err != nil {
		t.Fatalf("SetPayments error: %v", err)
	}
	if sale.PaymentTotal() != 12000 {
		t.Fatalf("payment total = %d, want 12000", sale.PaymentTotal())
	}

	// A later call replaces, not appends.
	sale, err = cart.SetPayments([]domain.Payment{{Type: domain.PaymentCash, Amount: 100}})
	if err != nil {
		t.Fatalf("SetPayments error: %v", err)
	}
	if len(sale.Payments) != 1 || sale.PaymentTotal() != 100 {
		t.Fatalf("payments not replaced: %+v", sale.Payments)
	}
}

func TestCartService_SnapshotIsIsolated(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "p-1", Quantity: 1, UnitPrice: 100, Discount: &domain.Discount{Type: domain.DiscountAmount, Value: 10}}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	snap := cart.Snapshot()
	snap.Lines[0].Quantity = 99
	snap.Lines[0].Discount.Value = 99

	current := cart.Snapshot()
	if current.Lines[0].Quantity != 1 || current.Lines[0].Discount.Value != 10 {
		t.Fatalf("snapshot mutation leaked into the aggregate: %+v", current.Lines[0])
	}
}

func TestCartService_ReplaceAndClear(t *testing.T) {
	cart := NewCartService()
	if _, err := cart.AddLine(domain.SaleLine{ProductID: "old", Quantity: 1, UnitPrice: 100}); err != nil {
		t.Fatalf("AddLine error: %v", err)
	}

	restored := domain.Sale{
		Lines:      []domain.SaleLine{{ProductID: "held", Quantity: 2, UnitPrice: 300}},
		CustomerID: "cust-9",
	}
	sale := cart.Replace(restored)
	if len(sale.Lines) != 1 || sale.Lines[0].ProductID != "held" || sale.CustomerID != "cust-9" {
		t.Fatalf("unexpected sale after replace: %+v", sale)
	}

	cart.Clear()
	if sale := cart.Snapshot(); !sale.Empty() || sale.CustomerID != "" {
		t.Fatalf("clear left state behind: %+v", sale)
	}
}
