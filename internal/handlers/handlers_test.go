package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
	"github.com/luis12duboqwe/inventario-sub008/internal/offline"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/idempotency"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/kvstore"
	"github.com/luis12duboqwe/inventario-sub008/internal/remote"
	"github.com/luis12duboqwe/inventario-sub008/internal/services"
)

type fakeBackend struct {
	priceFn    func(ctx context.Context, sale domain.Sale) (domain.BackendTotals, error)
	holdFn     func(ctx context.Context, name string, sale domain.Sale) (domain.HoldDraft, error)
	resumeFn   func(ctx context.Context, holdID string) (domain.HoldDraft, error)
	checkoutFn func(ctx context.Context, payload domain.CheckoutPayload) (domain.CheckoutResult, error)
}

func (f *fakeBackend) PriceDraft(ctx context.Context, sale domain.Sale) (domain.BackendTotals, error) {
	if f.priceFn == nil {
		return domain.BackendTotals{}, remote.ErrBackendUnreachable
	}
	return f.priceFn(ctx, sale)
}

func (f *fakeBackend) HoldSale(ctx context.Context, name string, sale domain.Sale) (domain.HoldDraft, error) {
	if f.holdFn == nil {
		return domain.HoldDraft{}, remote.ErrBackendUnreachable
	}
	return f.holdFn(ctx, name, sale)
}

func (f *fakeBackend) ResumeHold(ctx context.Context, holdID string) (domain.HoldDraft, error) {
	if f.resumeFn == nil {
		return domain.HoldDraft{}, remote.ErrHoldNotFound
	}
	return f.resumeFn(ctx, holdID)
}

func (f *fakeBackend) Checkout(ctx context.Context, payload domain.CheckoutPayload) (domain.CheckoutResult, error) {
	if f.checkoutFn == nil {
		return domain.CheckoutResult{}, remote.ErrBackendUnreachable
	}
	return f.checkoutFn(ctx, payload)
}

type fixture struct {
	router  http.Handler
	backend *fakeBackend
	queue   *offline.Queue
	cart    *services.CartService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := kvstore.NewMemoryStore()
	cart := services.NewCartService()
	rates, err := services.NewTaxRateLearner(services.TaxRateLearnerDeps{Store: store})
	if err != nil {
		t.Fatalf("NewTaxRateLearner error: %v", err)
	}
	queue, err := offline.NewQueue(offline.QueueDeps{Store: store})
	if err != nil {
		t.Fatalf("NewQueue error: %v", err)
	}
	backend := &fakeBackend{}

	keySeq := 0
	register, err := services.NewRegisterService(services.RegisterServiceDeps{
		Cart:    cart,
		Pricing: services.NewPricingEngine(),
		Rates:   rates,
		Queue:   queue,
		Backend: backend,
		Clock:   func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDGenerator: func() string {
			keySeq++
			return fmt.Sprintf("key-%d", keySeq)
		},
	})
	if err != nil {
		t.Fatalf("NewRegisterService error: %v", err)
	}

	guard := idempotency.Middleware(idempotency.NewMemoryStore())
	router := NewRouter(
		WithSaleRoutes(NewSaleHandlers(register, cart, guard).Routes),
		WithOfflineRoutes(NewOfflineHandlers(register, queue).Routes),
	)
	return &fixture{router: router, backend: backend, queue: queue, cart: cart}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeSaleResponse(t *testing.T, rec *httptest.ResponseRecorder) saleResponse {
	t.Helper()
	var resp saleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestSaleHandlers_AddLineReturnsTotals(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","name":"Widget","quantity":2,"unitPrice":10000}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	resp := decodeSaleResponse(t, rec)
	if resp.Totals.Subtotal != 20000 || resp.Totals.Tax != 3200 || resp.Totals.Total != 23200 {
		t.Fatalf("unexpected totals %+v", resp.Totals)
	}
}

func TestSaleHandlers_AddLineValidation(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"","quantity":1,"unitPrice":100}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/api/v1/register/sale/lines", `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed JSON", rec.Code)
	}
}

func TestSaleHandlers_UpdateAndRemoveLine(t *testing.T) {
	fx := newFixture(t)
	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":1,"unitPrice":10000}`, nil)

	rec := fx.do(t, http.MethodPatch, "/api/v1/register/sale/lines/p-1", `{"quantity":3}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	if resp := decodeSaleResponse(t, rec); resp.Sale.Lines[0].Quantity != 3 {
		t.Fatalf("quantity = %d, want 3", resp.Sale.Lines[0].Quantity)
	}

	rec = fx.do(t, http.MethodDelete, "/api/v1/register/sale/lines/p-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if resp := decodeSaleResponse(t, rec); !resp.Sale.Empty() {
		t.Fatalf("expected empty sale, got %+v", resp.Sale)
	}
}

func TestSaleHandlers_PriceFallsBackToLocal(t *testing.T) {
	fx := newFixture(t)
	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":2,"unitPrice":10000}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/price", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result services.PriceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Source != services.PriceSourceLocal || result.Local.Total != 23200 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSaleHandlers_CheckoutCompleted(t *testing.T) {
	fx := newFixture(t)
	fx.backend.checkoutFn = func(_ context.Context, _ domain.CheckoutPayload) (domain.CheckoutResult, error) {
		return domain.CheckoutResult{SaleNumber: "S-0001"}, nil
	}

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":2,"unitPrice":10000}`, nil)
	fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
		`{"payments":[{"type":"cash","amount":23200}]}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var outcome services.CheckoutOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Status != services.CheckoutCompleted || outcome.Result.SaleNumber != "S-0001" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestSaleHandlers_CheckoutQueuedWhenBackendDown(t *testing.T) {
	fx := newFixture(t)

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":2,"unitPrice":10000}`, nil)
	fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
		`{"payments":[{"type":"cash","amount":23200}]}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	// The unresolved sale stays visible on the register.
	saleRec := fx.do(t, http.MethodGet, "/api/v1/register/sale", "", nil)
	if resp := decodeSaleResponse(t, saleRec); resp.Sale.Empty() {
		t.Fatalf("sale must stay populated after a queued checkout")
	}

	listRec := fx.do(t, http.MethodGet, "/api/v1/register/offline", "", nil)
	var listing struct {
		Depth int `json:"depth"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listing.Depth != 1 {
		t.Fatalf("queue depth = %d, want 1", listing.Depth)
	}
}

func TestSaleHandlers_CheckoutIdempotencyReplay(t *testing.T) {
	fx := newFixture(t)
	calls := 0
	fx.backend.checkoutFn = func(_ context.Context, _ domain.CheckoutPayload) (domain.CheckoutResult, error) {
		calls++
		return domain.CheckoutResult{SaleNumber: fmt.Sprintf("S-%04d", calls)}, nil
	}

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":1,"unitPrice":10000}`, nil)
	fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
		`{"payments":[{"type":"cash","amount":11600}]}`, nil)

	headers := map[string]string{"Idempotency-Key": "console-retry-1"}
	first := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs")
	}
	if calls != 1 {
		t.Fatalf("backend calls = %d, want 1", calls)
	}
}

func TestSaleHandlers_CheckoutUnderpaid(t *testing.T) {
	fx := newFixture(t)

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":2,"unitPrice":10000}`, nil)
	fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
		`{"payments":[{"type":"cash","amount":100}]}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestSaleHandlers_CheckoutBackendRejection(t *testing.T) {
	fx := newFixture(t)
	fx.backend.checkoutFn = func(_ context.Context, _ domain.CheckoutPayload) (domain.CheckoutResult, error) {
		return domain.CheckoutResult{}, &remote.RejectionError{StatusCode: 422, Message: "product discontinued"}
	}

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":1,"unitPrice":10000}`, nil)
	fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
		`{"payments":[{"type":"cash","amount":11600}]}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend_rejected") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestSaleHandlers_HoldAndResume(t *testing.T) {
	fx := newFixture(t)
	fx.backend.holdFn = func(_ context.Context, name string, sale domain.Sale) (domain.HoldDraft, error) {
		return domain.HoldDraft{ID: "h-1", Name: name, Lines: sale.Lines}, nil
	}
	fx.backend.resumeFn = func(_ context.Context, holdID string) (domain.HoldDraft, error) {
		if holdID != "h-1" {
			return domain.HoldDraft{}, remote.ErrHoldNotFound
		}
		return domain.HoldDraft{ID: holdID, Lines: []domain.SaleLine{{ProductID: "p-1", Quantity: 1, UnitPrice: 100}}}, nil
	}

	fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
		`{"productId":"p-1","quantity":1,"unitPrice":100}`, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/hold", `{"name":"lunch"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold status = %d", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/api/v1/register/sale/resume/h-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if resp := decodeSaleResponse(t, rec); len(resp.Sale.Lines) != 1 {
		t.Fatalf("unexpected sale %+v", resp.Sale)
	}

	// The register is no longer empty, so resuming again conflicts.
	rec = fx.do(t, http.MethodPost, "/api/v1/register/sale/resume/h-1", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second resume status = %d, want 409", rec.Code)
	}
}

func TestSaleHandlers_ResumeUnknownHold(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/resume/ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOfflineHandlers_RetryAndPurge(t *testing.T) {
	fx := newFixture(t)

	// Queue two sales while the backend is down. The queued sale stays on
	// the register, so start each capture from a cleared cart.
	for i := 0; i < 2; i++ {
		fx.do(t, http.MethodPost, "/api/v1/register/sale/lines",
			`{"productId":"p-1","quantity":1,"unitPrice":10000}`, nil)
		fx.do(t, http.MethodPut, "/api/v1/register/sale/payments",
			`{"payments":[{"type":"cash","amount":11600}]}`, nil)
		if rec := fx.do(t, http.MethodPost, "/api/v1/register/sale/checkout", "", nil); rec.Code != http.StatusAccepted {
			t.Fatalf("checkout status = %d", rec.Code)
		}
		fx.cart.Clear()
	}

	fx.backend.checkoutFn = func(_ context.Context, _ domain.CheckoutPayload) (domain.CheckoutResult, error) {
		return domain.CheckoutResult{SaleNumber: "S-1"}, nil
	}

	rec := fx.do(t, http.MethodPost, "/api/v1/register/offline/retry", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	var report offline.RetryReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Delivered != 2 || report.Remaining != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	if rec := fx.do(t, http.MethodDelete, "/api/v1/register/offline/12345", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("purge missing entry status = %d, want 404", rec.Code)
	}
	if rec := fx.do(t, http.MethodDelete, "/api/v1/register/offline", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("purge all status = %d, want 204", rec.Code)
	}
}

func TestOfflineHandlers_PurgeEntry(t *testing.T) {
	fx := newFixture(t)

	entry, err := fx.queue.Enqueue(context.Background(), domain.CheckoutPayload{IdempotencyKey: "k"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	rec := fx.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/register/offline/%d", entry.ID), "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if rec := fx.do(t, http.MethodDelete, "/api/v1/register/offline/abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id status = %d, want 400", rec.Code)
	}
}

func TestRouter_NotFoundIsJSON(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "route_not_found") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRouter_UnconfiguredGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/register/sale", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestHealthHandlers(t *testing.T) {
	healthy := NewHealthHandlers(
		ReadinessCheck{Name: "storage", Probe: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "backend", Probe: func(context.Context) error { return errors.New("connection refused") }},
	)
	router := NewRouter(WithHealthHandlers(healthy))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	// An unreachable backend must not fail readiness.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200 with backend down", rec.Code)
	}

	broken := NewHealthHandlers(
		ReadinessCheck{Name: "storage", Probe: func(context.Context) error { return errors.New("disk full") }},
	)
	router = NewRouter(WithHealthHandlers(broken))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", rec.Code)
	}
}
