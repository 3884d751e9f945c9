package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

const maxLineQuantity = 100000

// LinePatch carries the optional fields of a line update. Nil fields leave
// the existing value untouched.
type LinePatch struct {
	Quantity  *int
	UnitPrice *int64
	Discount  *domain.Discount
	// ClearDiscount removes an existing discount; it wins over Discount.
	ClearDiscount bool
}

// CartService owns the mutable sale aggregate of one register. All reads hand
// out deep copies so callers can never mutate the aggregate behind its back;
// all writes go through validated operations under one lock.
type CartService struct {
	mu   sync.Mutex
	sale domain.Sale
}

// NewCartService constructs an empty cart.
func NewCartService() *CartService { return &CartService{} }

// Snapshot returns a deep copy of the current sale.
func (s *CartService) Snapshot() domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sale.Clone()
}

// AddLine appends a product to the sale. A line with the same product and no
// serial number merges into the existing one by summing quantities; serialised
// lines always stay separate.
func (s *CartService) AddLine(line domain.SaleLine) (domain.Sale, error) {
	line.ProductID = strings.TrimSpace(line.ProductID)
	line.Serial = strings.TrimSpace(line.Serial)
	if line.ProductID == "" {
		return domain.Sale{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if line.Quantity <= 0 {
		return domain.Sale{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	if line.Quantity > maxLineQuantity {
		return domain.Sale{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, maxLineQuantity)
	}
	if line.UnitPrice < 0 {
		return domain.Sale{}, fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidInput)
	}
	if err := validateDiscount(line.Discount); err != nil {
		return domain.Sale{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if line.Serial == "" {
		for i := range s.sale.Lines {
			existing := &s.sale.Lines[i]
			if existing.ProductID == line.ProductID && existing.Serial == "" {
				existing.Quantity += line.Quantity
				if existing.Quantity > maxLineQuantity {
					existing.Quantity = maxLineQuantity
				}
				return s.sale.Clone(), nil
			}
		}
	}
	s.sale.Lines = append(s.sale.Lines, line)
	return s.sale.Clone(), nil
}

// UpdateLine applies a patch to the line identified by product id (and serial
// when several serialised lines share a product). A quantity of zero or below
// removes the line. Updating an absent product is a no-op: the register may
// race its own remove, and converging on the same state is the useful outcome.
func (s *CartService) UpdateLine(productID, serial string, patch LinePatch) (domain.Sale, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Sale{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if patch.UnitPrice != nil && *patch.UnitPrice < 0 {
		return domain.Sale{}, fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidInput)
	}
	if !patch.ClearDiscount {
		if err := validateDiscount(patch.Discount); err != nil {
			return domain.Sale{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLineLocked(productID, serial)
	if idx < 0 {
		return s.sale.Clone(), nil
	}

	line := &s.sale.Lines[idx]
	if patch.Quantity != nil {
		if *patch.Quantity <= 0 {
			s.sale.Lines = append(s.sale.Lines[:idx], s.sale.Lines[idx+1:]...)
			return s.sale.Clone(), nil
		}
		quantity := *patch.Quantity
		if quantity > maxLineQuantity {
			quantity = maxLineQuantity
		}
		line.Quantity = quantity
	}
	if patch.UnitPrice != nil {
		line.UnitPrice = *patch.UnitPrice
	}
	if patch.ClearDiscount {
		line.Discount = nil
	} else if patch.Discount != nil {
		dup := *patch.Discount
		line.Discount = &dup
	}
	return s.sale.Clone(), nil
}

// RemoveLine drops the line identified by product id (and serial). Removing an
// absent product is a no-op.
func (s *CartService) RemoveLine(productID, serial string) (domain.Sale, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Sale{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.findLineLocked(productID, serial); idx >= 0 {
		s.sale.Lines = append(s.sale.Lines[:idx], s.sale.Lines[idx+1:]...)
	}
	return s.sale.Clone(), nil
}

// SetPayments replaces the tendered payments wholesale.
func (s *CartService) SetPayments(payments []domain.Payment) (domain.Sale, error) {
	for i, p := range payments {
		if !p.Type.Valid() {
			return domain.Sale{}, fmt.Errorf("%w: payment %d has unknown type %q", ErrCartInvalidInput, i, p.Type)
		}
		if p.Amount <= 0 {
			return domain.Sale{}, fmt.Errorf("%w: payment %d amount must be positive", ErrCartInvalidInput, i)
		}
		if p.Type.RequiresTerminal() && strings.TrimSpace(p.TerminalID) == "" {
			return domain.Sale{}, fmt.Errorf("%w: payment %d requires a terminal id", ErrCartInvalidInput, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sale.Payments = nil
	if len(payments) > 0 {
		s.sale.Payments = make([]domain.Payment, len(payments))
		copy(s.sale.Payments, payments)
	}
	return s.sale.Clone(), nil
}

// SetCustomer attaches (or clears) the customer reference.
func (s *CartService) SetCustomer(customerID string) domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sale.CustomerID = strings.TrimSpace(customerID)
	return s.sale.Clone()
}

// Replace swaps the whole aggregate, used when resuming a held sale.
func (s *CartService) Replace(sale domain.Sale) domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sale = sale.Clone()
	return s.sale.Clone()
}

// Clear resets the register to an empty sale.
func (s *CartService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sale = domain.Sale{}
}

func (s *CartService) findLineLocked(productID, serial string) int {
	serial = strings.TrimSpace(serial)
	for i, line := range s.sale.Lines {
		if line.ProductID != productID {
			continue
		}
		if serial != "" && line.Serial != serial {
			continue
		}
		return i
	}
	return -1
}

func validateDiscount(d *domain.Discount) error {
	if d == nil {
		return nil
	}
	switch d.Type {
	case domain.DiscountPercent:
		if d.Value < 0 || d.Value > 100 {
			return fmt.Errorf("%w: percent discount must be between 0 and 100", ErrCartInvalidInput)
		}
	case domain.DiscountAmount:
		if d.Value < 0 {
			return fmt.Errorf("%w: amount discount must not be negative", ErrCartInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrCartInvalidInput, d.Type)
	}
	return nil
}
