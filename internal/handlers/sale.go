package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/httpx"
	"github.com/luis12duboqwe/inventario-sub008/internal/remote"
	"github.com/luis12duboqwe/inventario-sub008/internal/services"
)

// SaleHandlers exposes the active sale lifecycle of this register to the
// console in front of it.
type SaleHandlers struct {
	register *services.RegisterService
	cart     *services.CartService
	// checkoutGuard is the idempotency middleware applied to the checkout route.
	checkoutGuard func(http.Handler) http.Handler
}

// NewSaleHandlers constructs handlers over the register and cart services.
func NewSaleHandlers(register *services.RegisterService, cart *services.CartService, checkoutGuard func(http.Handler) http.Handler) *SaleHandlers {
	return &SaleHandlers{register: register, cart: cart, checkoutGuard: checkoutGuard}
}

// Routes wires the /sale endpoints onto the provided router.
func (h *SaleHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSale)
	r.Post("/lines", h.addLine)
	r.Patch("/lines/{productID}", h.updateLine)
	r.Delete("/lines/{productID}", h.removeLine)
	r.Put("/payments", h.setPayments)
	r.Put("/customer", h.setCustomer)
	r.Post("/price", h.price)
	r.Post("/hold", h.hold)
	r.Post("/resume/{holdID}", h.resume)

	checkout := http.HandlerFunc(h.checkout)
	if h.checkoutGuard != nil {
		r.With(h.checkoutGuard).Post("/checkout", checkout)
	} else {
		r.Post("/checkout", checkout)
	}
}

type saleResponse struct {
	Sale   domain.Sale   `json:"sale"`
	Totals domain.Totals `json:"totals"`
}

func (h *SaleHandlers) getSale(w http.ResponseWriter, r *http.Request) {
	sale, totals := h.register.CurrentSale(r.Context())
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

func (h *SaleHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var line domain.SaleLine
	if err := decodeBody(r, &line); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if _, err := h.cart.AddLine(line); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	sale, totals := h.register.CurrentSale(ctx)
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

type updateLineRequest struct {
	Quantity      *int             `json:"quantity,omitempty"`
	UnitPrice     *int64           `json:"unitPrice,omitempty"`
	Discount      *domain.Discount `json:"discount,omitempty"`
	ClearDiscount bool             `json:"clearDiscount,omitempty"`
	Serial        string           `json:"serial,omitempty"`
}

func (h *SaleHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateLineRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	patch := services.LinePatch{
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		Discount:      req.Discount,
		ClearDiscount: req.ClearDiscount,
	}
	if _, err := h.cart.UpdateLine(pathParam(r, "productID"), req.Serial, patch); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	sale, totals := h.register.CurrentSale(ctx)
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

func (h *SaleHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.cart.RemoveLine(pathParam(r, "productID"), r.URL.Query().Get("serial")); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	sale, totals := h.register.CurrentSale(ctx)
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

type setPaymentsRequest struct {
	Payments []domain.Payment `json:"payments"`
}

func (h *SaleHandlers) setPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req setPaymentsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if _, err := h.cart.SetPayments(req.Payments); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	sale, totals := h.register.CurrentSale(ctx)
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

type setCustomerRequest struct {
	CustomerID string `json:"customerId"`
}

func (h *SaleHandlers) setCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req setCustomerRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	h.cart.SetCustomer(req.CustomerID)
	sale, totals := h.register.CurrentSale(ctx)
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

func (h *SaleHandlers) price(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.register.Price(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type holdRequest struct {
	Name string `json:"name,omitempty"`
}

func (h *SaleHandlers) hold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req holdRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	hold, err := h.register.Hold(ctx, req.Name)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, hold)
}

func (h *SaleHandlers) resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sale, totals, err := h.register.Resume(ctx, pathParam(r, "holdID"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, saleResponse{Sale: sale, Totals: totals})
}

func (h *SaleHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	outcome, err := h.register.Checkout(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Status == services.CheckoutQueued {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, outcome)
}

func (h *SaleHandlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejection *remote.RejectionError
	switch {
	case errors.Is(err, services.ErrCartInvalidInput), errors.Is(err, services.ErrRegisterInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRegisterEmptySale):
		httpx.WriteError(ctx, w, httpx.NewError("empty_sale", "the sale has no lines", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRegisterUnderpaid):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_payment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRegisterConflict):
		httpx.WriteError(ctx, w, httpx.NewError("sale_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, remote.ErrHoldNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("hold_not_found", "held sale not found", http.StatusNotFound))
	case errors.As(err, &rejection):
		httpx.WriteError(ctx, w, httpx.NewError("backend_rejected", rejection.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"backend_status": rejection.StatusCode}))
	case errors.Is(err, remote.ErrBackendUnreachable):
		httpx.WriteError(ctx, w, httpx.NewError("backend_unreachable", "the sales backend is unreachable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	return strings.TrimSpace(value)
}
