package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
	"github.com/luis12duboqwe/inventario-sub008/internal/offline"
	"github.com/luis12duboqwe/inventario-sub008/internal/remote"
)

var (
	errRegisterCartRequired    = errors.New("register service: cart is required")
	errRegisterPricingRequired = errors.New("register service: pricing engine is required")
	errRegisterRatesRequired   = errors.New("register service: tax rate learner is required")
	errRegisterQueueRequired   = errors.New("register service: offline queue is required")
	errRegisterBackendRequired = errors.New("register service: sales backend is required")
)

// ErrRegisterInvalidInput indicates the caller supplied invalid input.
var ErrRegisterInvalidInput = errors.New("register service: invalid input")

// ErrRegisterEmptySale indicates the operation needs at least one sale line.
var ErrRegisterEmptySale = errors.New("register service: sale is empty")

// ErrRegisterConflict indicates the register state blocks the operation, such
// as resuming a hold while a sale is already in progress.
var ErrRegisterConflict = errors.New("register service: conflict")

// ErrRegisterUnderpaid indicates tendered payments do not cover the total.
var ErrRegisterUnderpaid = errors.New("register service: payments do not cover total")

// SalesBackend is the remote surface the register depends on. Implementations
// classify failures with remote.ErrBackendUnreachable and
// remote.ErrBackendRejected.
type SalesBackend interface {
	PriceDraft(ctx context.Context, sale domain.Sale) (domain.BackendTotals, error)
	HoldSale(ctx context.Context, name string, sale domain.Sale) (domain.HoldDraft, error)
	ResumeHold(ctx context.Context, holdID string) (domain.HoldDraft, error)
	Checkout(ctx context.Context, payload domain.CheckoutPayload) (domain.CheckoutResult, error)
}

// SaleCompletedEvent is emitted after the backend accepts a checkout.
type SaleCompletedEvent struct {
	SaleNumber     string    `json:"saleNumber"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Total          int64     `json:"total"`
	CompletedAt    time.Time `json:"completedAt"`
}

// EventPublisher fans completed sales out to downstream consumers. Publish
// failures are logged and swallowed: the sale is already durable upstream.
type EventPublisher interface {
	PublishSaleCompleted(ctx context.Context, event SaleCompletedEvent) error
}

// PriceSource identifies which system produced the totals shown to the cashier.
type PriceSource string

const (
	// PriceSourceLocal marks totals computed by the in-process engine.
	PriceSourceLocal PriceSource = "local"
	// PriceSourceBackend marks totals confirmed by the sales backend.
	PriceSourceBackend PriceSource = "backend"
)

// PriceResult pairs the locally computed totals with the backend confirmation
// when one was obtained.
type PriceResult struct {
	Sale    domain.Sale           `json:"sale"`
	Local   domain.Totals         `json:"local"`
	Backend *domain.BackendTotals `json:"backend,omitempty"`
	Source  PriceSource           `json:"source"`
	// Stale is set when a backend confirmation was requested but not applied,
	// so the console can flag the displayed totals as unconfirmed.
	Stale bool `json:"pricingStale,omitempty"`
}

// CheckoutStatus reports how a checkout concluded.
type CheckoutStatus string

const (
	// CheckoutCompleted means the backend accepted the sale.
	CheckoutCompleted CheckoutStatus = "completed"
	// CheckoutQueued means the backend was unreachable and the sale was
	// captured in the offline queue.
	CheckoutQueued CheckoutStatus = "queued"
)

// CheckoutOutcome is the result of a checkout attempt.
type CheckoutOutcome struct {
	Status     CheckoutStatus        `json:"status"`
	Totals     domain.Totals         `json:"totals"`
	Result     *domain.CheckoutResult `json:"result,omitempty"`
	QueueEntry *domain.QueueEntry     `json:"queueEntry,omitempty"`
}

// RegisterServiceDeps wires the register's collaborators.
type RegisterServiceDeps struct {
	Cart        *CartService
	Pricing     *PricingEngine
	Rates       *TaxRateLearner
	Queue       *offline.Queue
	Backend     SalesBackend
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// RegisterService drives the sale lifecycle of one register: pricing, holds,
// checkout and the offline replay path. Local totals are always available;
// the backend confirms them when reachable and its responses teach the tax
// rate learner.
type RegisterService struct {
	cart    *CartService
	pricing *PricingEngine
	rates   *TaxRateLearner
	queue   *offline.Queue
	backend SalesBackend
	events  EventPublisher
	now     func() time.Time
	newID   func() string
	logger  func(ctx context.Context, event string, fields map[string]any)

	// priceSeq orders concurrent pricing calls so a slow backend response
	// for an older cart state never overrides a newer one.
	priceMu  sync.Mutex
	priceSeq uint64
}

// NewRegisterService constructs a RegisterService enforcing dependency validation.
func NewRegisterService(deps RegisterServiceDeps) (*RegisterService, error) {
	if deps.Cart == nil {
		return nil, errRegisterCartRequired
	}
	if deps.Pricing == nil {
		return nil, errRegisterPricingRequired
	}
	if deps.Rates == nil {
		return nil, errRegisterRatesRequired
	}
	if deps.Queue == nil {
		return nil, errRegisterQueueRequired
	}
	if deps.Backend == nil {
		return nil, errRegisterBackendRequired
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RegisterService{
		cart:    deps.Cart,
		pricing: deps.Pricing,
		rates:   deps.Rates,
		queue:   deps.Queue,
		backend: deps.Backend,
		events:  deps.Events,
		now:     now,
		newID:   newID,
		logger:  logger,
	}, nil
}

// CurrentSale returns the sale with locally computed totals.
func (s *RegisterService) CurrentSale(ctx context.Context) (domain.Sale, domain.Totals) {
	sale := s.cart.Snapshot()
	return sale, s.pricing.ComputeTotals(sale.Lines, s.rates.Read(ctx))
}

// Price computes local totals immediately and then asks the backend to
// confirm them. Confirmation is best-effort: any backend failure, network or
// rejection alike, keeps the local figure and flags it unconfirmed. A
// response that arrives after a newer Price call started is discarded so the
// register never displays stale authoritative totals.
func (s *RegisterService) Price(ctx context.Context) (PriceResult, error) {
	sale := s.cart.Snapshot()
	local := s.pricing.ComputeTotals(sale.Lines, s.rates.Read(ctx))
	result := PriceResult{Sale: sale, Local: local, Source: PriceSourceLocal}
	if sale.Empty() {
		return result, nil
	}

	token := s.nextPriceToken()
	backendTotals, err := s.backend.PriceDraft(ctx, sale)
	if err != nil {
		s.logger(ctx, "register.price_unconfirmed", map[string]any{"error": err.Error()})
		result.Stale = true
		return result, nil
	}

	if !s.priceTokenCurrent(token) {
		s.logger(ctx, "register.price_stale_discarded", map[string]any{"token": token})
		result.Stale = true
		return result, nil
	}

	s.rates.Ingest(ctx, backendTotals)
	result.Backend = &backendTotals
	result.Source = PriceSourceBackend
	return result, nil
}

// Hold parks the current sale on the backend and clears the register. Holds
// are server-side state, so an unreachable backend blocks the operation
// instead of queueing it.
func (s *RegisterService) Hold(ctx context.Context, name string) (domain.HoldDraft, error) {
	sale := s.cart.Snapshot()
	if sale.Empty() {
		return domain.HoldDraft{}, ErrRegisterEmptySale
	}

	hold, err := s.backend.HoldSale(ctx, strings.TrimSpace(name), sale)
	if err != nil {
		return domain.HoldDraft{}, err
	}

	s.cart.Clear()
	s.logger(ctx, "register.sale_held", map[string]any{"hold_id": hold.ID})
	return hold, nil
}

// Resume restores a held sale into an empty register and immediately asks
// the backend for a fresh authoritative re-price, since the held draft may
// predate a tax or price change.
func (s *RegisterService) Resume(ctx context.Context, holdID string) (domain.Sale, domain.Totals, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return domain.Sale{}, domain.Totals{}, fmt.Errorf("%w: hold id is required", ErrRegisterInvalidInput)
	}
	if !s.cart.Snapshot().Empty() {
		return domain.Sale{}, domain.Totals{}, fmt.Errorf("%w: a sale is already in progress", ErrRegisterConflict)
	}

	hold, err := s.backend.ResumeHold(ctx, holdID)
	if err != nil {
		return domain.Sale{}, domain.Totals{}, err
	}

	sale := s.cart.Replace(domain.Sale{
		Lines:      hold.Lines,
		Payments:   hold.Payments,
		CustomerID: hold.CustomerID,
	})
	if _, err := s.Price(ctx); err != nil {
		s.logger(ctx, "register.resume_reprice_failed", map[string]any{"error": err.Error()})
	}
	totals := s.pricing.ComputeTotals(sale.Lines, s.rates.Read(ctx))
	s.logger(ctx, "register.sale_resumed", map[string]any{"hold_id": holdID})
	return sale, totals, nil
}

// Checkout snapshots the sale, stamps it with a fresh idempotency key and
// submits it. An unreachable backend diverts the payload into the offline
// queue with the sale left on the register, so the operator can see the
// attempt is still unresolved locally; a rejection surfaces to the cashier,
// also with the sale intact. Only an accepted checkout clears the register.
func (s *RegisterService) Checkout(ctx context.Context) (CheckoutOutcome, error) {
	sale := s.cart.Snapshot()
	if sale.Empty() {
		return CheckoutOutcome{}, ErrRegisterEmptySale
	}
	totals := s.pricing.ComputeTotals(sale.Lines, s.rates.Read(ctx))
	if len(sale.Payments) == 0 {
		return CheckoutOutcome{}, fmt.Errorf("%w: no payments tendered", ErrRegisterUnderpaid)
	}
	if sale.PaymentTotal() < totals.Total {
		return CheckoutOutcome{}, fmt.Errorf("%w: tendered %d of %d", ErrRegisterUnderpaid, sale.PaymentTotal(), totals.Total)
	}

	payload := domain.CheckoutPayload{
		IdempotencyKey: s.newID(),
		Lines:          sale.Lines,
		Payments:       sale.Payments,
		CustomerID:     sale.CustomerID,
		Totals:         totals,
		SubmittedAt:    s.now().UTC(),
	}

	result, err := s.backend.Checkout(ctx, payload)
	if err != nil {
		if errors.Is(err, remote.ErrBackendUnreachable) {
			entry, queueErr := s.queue.Enqueue(ctx, payload)
			if queueErr != nil {
				return CheckoutOutcome{}, fmt.Errorf("register service: capture offline: %w", queueErr)
			}
			s.logger(ctx, "register.checkout_queued", map[string]any{"entry_id": entry.ID})
			return CheckoutOutcome{Status: CheckoutQueued, Totals: totals, QueueEntry: &entry}, nil
		}
		return CheckoutOutcome{}, err
	}

	s.finishAccepted(ctx, payload, result)
	s.cart.Clear()
	return CheckoutOutcome{Status: CheckoutCompleted, Totals: totals, Result: &result}, nil
}

// RetryQueued drains the offline queue against the backend, stopping at the
// first transient failure. Each delivered sale feeds the tax learner and the
// event stream exactly as a live checkout would.
func (s *RegisterService) RetryQueued(ctx context.Context) (offline.RetryReport, error) {
	report, err := s.queue.RetryAll(ctx,
		func(ctx context.Context, payload domain.CheckoutPayload) error {
			result, err := s.backend.Checkout(ctx, payload)
			if err != nil {
				return err
			}
			s.finishAccepted(ctx, payload, result)
			return nil
		},
		func(err error) bool { return errors.Is(err, remote.ErrBackendUnreachable) },
	)
	if err != nil {
		return report, err
	}
	s.logger(ctx, "register.queue_drained", map[string]any{
		"delivered": report.Delivered,
		"rejected":  report.Rejected,
		"remaining": report.Remaining,
	})
	return report, nil
}

func (s *RegisterService) finishAccepted(ctx context.Context, payload domain.CheckoutPayload, result domain.CheckoutResult) {
	if result.Totals != nil {
		s.rates.Ingest(ctx, *result.Totals)
	}
	s.logger(ctx, "register.checkout_completed", map[string]any{
		"sale_number": result.SaleNumber,
		"total":       payload.Totals.Total,
	})
	if s.events == nil {
		return
	}
	event := SaleCompletedEvent{
		SaleNumber:     result.SaleNumber,
		IdempotencyKey: payload.IdempotencyKey,
		Total:          payload.Totals.Total,
		CompletedAt:    s.now().UTC(),
	}
	if err := s.events.PublishSaleCompleted(ctx, event); err != nil {
		s.logger(ctx, "register.event_publish_failed", map[string]any{
			"sale_number": result.SaleNumber,
			"error":       err.Error(),
		})
	}
}

func (s *RegisterService) nextPriceToken() uint64 {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	s.priceSeq++
	return s.priceSeq
}

func (s *RegisterService) priceTokenCurrent(token uint64) bool {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	return token == s.priceSeq
}
