package domain

import "time"

// DiscountType distinguishes how a line discount value is interpreted.
type DiscountType string

const (
	// DiscountPercent interprets the discount value as a percentage of the line subtotal (0-100).
	DiscountPercent DiscountType = "percent"
	// DiscountAmount interprets the discount value as an absolute amount in minor units.
	DiscountAmount DiscountType = "amount"
)

// PaymentType enumerates the tenders a register accepts.
type PaymentType string

const (
	PaymentCash     PaymentType = "cash"
	PaymentCard     PaymentType = "card"
	PaymentTransfer PaymentType = "transfer"
	PaymentOther    PaymentType = "other"
)

// RequiresTerminal reports whether the payment type needs a terminal identifier.
func (t PaymentType) RequiresTerminal() bool {
	return t == PaymentCard || t == PaymentTransfer
}

// Valid reports whether the payment type is one of the known tenders.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// Discount is an optional per-line price reduction.
type Discount struct {
	Type DiscountType `json:"type"`
	// Value is a percentage (0-100) for DiscountPercent, minor units for DiscountAmount.
	Value int64 `json:"value"`
}

// SaleLine is one product entry in the active sale.
//
// Two additions of the same product without a serial number merge into one
// line by summing quantity; a line carrying a serial number never merges.
type SaleLine struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	Discount  *Discount `json:"discount,omitempty"`
	Serial    string    `json:"serial,omitempty"`
}

// Payment is one tender applied toward the sale total.
type Payment struct {
	Type       PaymentType `json:"type"`
	Amount     int64       `json:"amount"`
	Reference  string      `json:"reference,omitempty"`
	TerminalID string      `json:"terminalId,omitempty"`
}

// Totals is a derived, immutable pricing snapshot. It is always recomputed
// from the current sale state and never persisted on its own.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
	// TaxRate is the 0-1 fraction the totals were computed with.
	TaxRate float64 `json:"taxRate"`
}

// Sale is the mutable aggregate behind one register transaction.
type Sale struct {
	Lines      []SaleLine `json:"lines"`
	Payments   []Payment  `json:"payments"`
	CustomerID string     `json:"customerId,omitempty"`
}

// Clone returns a deep copy so callers can hand snapshots across async
// boundaries without sharing backing arrays.
func (s Sale) Clone() Sale {
	dup := Sale{CustomerID: s.CustomerID}
	if len(s.Lines) > 0 {
		dup.Lines = make([]SaleLine, len(s.Lines))
		copy(dup.Lines, s.Lines)
		for i := range dup.Lines {
			if d := dup.Lines[i].Discount; d != nil {
				dd := *d
				dup.Lines[i].Discount = &dd
			}
		}
	}
	if len(s.Payments) > 0 {
		dup.Payments = make([]Payment, len(s.Payments))
		copy(dup.Payments, s.Payments)
	}
	return dup
}

// PaymentTotal sums the tendered amounts.
func (s Sale) PaymentTotal() int64 {
	var total int64
	for _, p := range s.Payments {
		if p.Amount > 0 {
			total += p.Amount
		}
	}
	return total
}

// Empty reports whether the sale carries no lines.
func (s Sale) Empty() bool { return len(s.Lines) == 0 }

// CheckoutPayload is the exact request body submitted to the sales backend.
// It is snapshotted when checkout starts so later cart edits cannot leak into
// a queued offline attempt, and the idempotency key travels with it so a
// retry resubmits the identical request.
type CheckoutPayload struct {
	IdempotencyKey string     `json:"idempotencyKey"`
	Lines          []SaleLine `json:"lines"`
	Payments       []Payment  `json:"payments"`
	CustomerID     string     `json:"customerId,omitempty"`
	Totals         Totals     `json:"totals"`
	SubmittedAt    time.Time  `json:"submittedAt"`
}

// QueueEntry is one durable record of a checkout attempt that could not
// reach the sales backend. Entries are identified by their capture timestamp
// (unix milliseconds) and are never mutated in place.
type QueueEntry struct {
	ID      int64           `json:"id"`
	Payload CheckoutPayload `json:"payload"`
}

// BackendTotals is the authoritative pricing figure returned by the sales
// backend. Rate is optional; when absent the tax rate learner back-computes
// it from the amounts.
type BackendTotals struct {
	Subtotal int64    `json:"subtotal"`
	Discount int64    `json:"discount"`
	Tax      int64    `json:"tax"`
	Total    int64    `json:"total"`
	Rate     *float64 `json:"taxRate,omitempty"`
}

// HoldDraft is the server-persisted snapshot of an in-progress sale.
type HoldDraft struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Lines      []SaleLine `json:"lines"`
	Payments   []Payment  `json:"payments"`
	CustomerID string     `json:"customerId,omitempty"`
}

// CheckoutResult captures the backend response to a completed sale.
type CheckoutResult struct {
	SaleNumber string         `json:"saleNumber"`
	Totals     *BackendTotals `json:"totals,omitempty"`
}
