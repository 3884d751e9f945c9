package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientDeps{
		BaseURL:    server.URL,
		APIToken:   "secret-token",
		RegisterID: "reg-7",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client, server
}

func TestNewClient_RequiresUsableBaseURL(t *testing.T) {
	if _, err := NewClient(ClientDeps{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewClient(ClientDeps{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected error for malformed base url")
	}
}

func TestClient_PriceDraft(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sales/price" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization header = %q", got)
		}
		if got := r.Header.Get("X-Register-ID"); got != "reg-7" {
			t.Errorf("register header = %q", got)
		}

		var body struct {
			Lines      []domain.SaleLine `json:"lines"`
			Payments   []domain.Payment  `json:"payments"`
			CustomerID string            `json:"customerId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Lines) != 1 || body.Lines[0].ProductID != "p-1" {
			t.Errorf("unexpected lines %+v", body.Lines)
		}
		if len(body.Payments) != 1 || body.Payments[0].Amount != 23200 {
			t.Errorf("unexpected payments %+v", body.Payments)
		}
		if body.CustomerID != "cust-9" {
			t.Errorf("customer id = %q", body.CustomerID)
		}

		rate := 0.16
		_ = json.NewEncoder(w).Encode(domain.BackendTotals{Subtotal: 20000, Tax: 3200, Total: 23200, Rate: &rate})
	}))

	totals, err := client.PriceDraft(context.Background(), domain.Sale{
		Lines:      []domain.SaleLine{{ProductID: "p-1", Quantity: 2, UnitPrice: 10000}},
		Payments:   []domain.Payment{{Type: domain.PaymentCash, Amount: 23200}},
		CustomerID: "cust-9",
	})
	if err != nil {
		t.Fatalf("PriceDraft error: %v", err)
	}
	if totals.Total != 23200 || totals.Rate == nil || *totals.Rate != 0.16 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestClient_CheckoutSendsIdempotencyKey(t *testing.T) {
	var seenKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("Idempotency-Key")
		_ = json.NewEncoder(w).Encode(domain.CheckoutResult{SaleNumber: "S-0042"})
	}))

	result, err := client.Checkout(context.Background(), domain.CheckoutPayload{IdempotencyKey: "01HKEY"})
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if seenKey != "01HKEY" {
		t.Fatalf("idempotency key header = %q, want 01HKEY", seenKey)
	}
	if result.SaleNumber != "S-0042" {
		t.Fatalf("sale number = %q", result.SaleNumber)
	}
}

func TestClient_ServerErrorIsUnreachable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Checkout(context.Background(), domain.CheckoutPayload{IdempotencyKey: "k"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
}

func TestClient_ConnectionFailureIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	httpClient := server.Client()
	server.Close()

	client, err := NewClient(ClientDeps{BaseURL: baseURL, HTTPClient: httpClient})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
}

func TestClient_ClientErrorIsRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"payment short by 100"}}`))
	}))

	_, err := client.Checkout(context.Background(), domain.CheckoutPayload{IdempotencyKey: "k"})
	if !errors.Is(err, ErrBackendRejected) {
		t.Fatalf("expected ErrBackendRejected, got %v", err)
	}
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %T", err)
	}
	if rejection.StatusCode != http.StatusUnprocessableEntity || rejection.Message != "payment short by 100" {
		t.Fatalf("unexpected rejection %+v", rejection)
	}
	if errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("rejection must not be classified as unreachable")
	}
}

func TestClient_ResumeHoldNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sales/holds/h-1" {
			_ = json.NewEncoder(w).Encode(domain.HoldDraft{ID: "h-1", Name: "lunch rush"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	hold, err := client.ResumeHold(context.Background(), "h-1")
	if err != nil {
		t.Fatalf("ResumeHold error: %v", err)
	}
	if hold.Name != "lunch rush" {
		t.Fatalf("unexpected hold %+v", hold)
	}

	if _, err := client.ResumeHold(context.Background(), "ghost"); !errors.Is(err, ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound, got %v", err)
	}
}
