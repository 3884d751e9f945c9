package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
)

// ErrBackendUnreachable marks transport failures and 5xx responses: the sales
// backend never durably accepted the request, so a checkout may be captured
// offline and replayed later.
var ErrBackendUnreachable = errors.New("sales backend: unreachable")

// ErrBackendRejected marks 4xx responses: the backend saw the request and
// refused it. Queueing such a request would replay the same refusal, so the
// caller surfaces it instead.
var ErrBackendRejected = errors.New("sales backend: rejected")

// ErrHoldNotFound indicates the referenced held sale does not exist upstream.
var ErrHoldNotFound = errors.New("sales backend: hold not found")

const defaultTimeout = 10 * time.Second

// ClientDeps wires the configuration for the sales backend client.
type ClientDeps struct {
	BaseURL    string
	APIToken   string
	RegisterID string
	Timeout    time.Duration
	// HTTPClient overrides the built-in client, used by tests.
	HTTPClient *http.Client
}

// Client talks JSON to the central sales backend on behalf of one register.
type Client struct {
	base       *url.URL
	token      string
	registerID string
	http       *http.Client
}

// NewClient constructs a Client enforcing dependency validation. Outbound
// requests are traced through the otelhttp transport.
func NewClient(deps ClientDeps) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if trimmed == "" {
		return nil, errors.New("sales backend: base url is required")
	}
	base, err := url.Parse(trimmed)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("sales backend: invalid base url %q", deps.BaseURL)
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		timeout := deps.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		base:       base,
		token:      strings.TrimSpace(deps.APIToken),
		registerID: strings.TrimSpace(deps.RegisterID),
		http:       httpClient,
	}, nil
}

// PriceDraft asks the backend to price the draft sale authoritatively.
func (c *Client) PriceDraft(ctx context.Context, sale domain.Sale) (domain.BackendTotals, error) {
	var totals domain.BackendTotals
	err := c.do(ctx, http.MethodPost, "/api/v1/sales/price", "", priceRequest{
		Lines:      sale.Lines,
		Payments:   sale.Payments,
		CustomerID: sale.CustomerID,
	}, &totals)
	return totals, err
}

// HoldSale parks the draft upstream and returns its hold reference.
func (c *Client) HoldSale(ctx context.Context, name string, sale domain.Sale) (domain.HoldDraft, error) {
	var hold domain.HoldDraft
	err := c.do(ctx, http.MethodPost, "/api/v1/sales/holds", "", holdRequest{
		Name:       name,
		Lines:      sale.Lines,
		Payments:   sale.Payments,
		CustomerID: sale.CustomerID,
	}, &hold)
	return hold, err
}

// ResumeHold fetches a held sale by id.
func (c *Client) ResumeHold(ctx context.Context, holdID string) (domain.HoldDraft, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return domain.HoldDraft{}, fmt.Errorf("%w: hold id is required", ErrBackendRejected)
	}

	var hold domain.HoldDraft
	err := c.do(ctx, http.MethodGet, "/api/v1/sales/holds/"+url.PathEscape(holdID), "", nil, &hold)
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) && rejection.StatusCode == http.StatusNotFound {
			return domain.HoldDraft{}, ErrHoldNotFound
		}
		return domain.HoldDraft{}, err
	}
	return hold, nil
}

// Checkout submits a completed sale. The payload's idempotency key travels as
// a header so the backend deduplicates replays of the same capture.
func (c *Client) Checkout(ctx context.Context, payload domain.CheckoutPayload) (domain.CheckoutResult, error) {
	var result domain.CheckoutResult
	err := c.do(ctx, http.MethodPost, "/api/v1/sales", payload.IdempotencyKey, payload, &result)
	return result, err
}

// Ping probes backend reachability for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

// RejectionError carries the backend's refusal detail. It matches
// ErrBackendRejected through errors.Is.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sales backend: rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("sales backend: rejected with status %d: %s", e.StatusCode, e.Message)
}

// Is reports sentinel equivalence.
func (e *RejectionError) Is(target error) bool { return target == ErrBackendRejected }

type priceRequest struct {
	Lines      []domain.SaleLine `json:"lines"`
	Payments   []domain.Payment  `json:"payments,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
}

type holdRequest struct {
	Name       string            `json:"name,omitempty"`
	Lines      []domain.SaleLine `json:"lines"`
	Payments   []domain.Payment  `json:"payments,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sales backend: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("sales backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.registerID != "" {
		req.Header.Set("X-Register-ID", c.registerID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrBackendUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrBackendUnreachable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &RejectionError{StatusCode: resp.StatusCode, Message: rejectionMessage(payload)}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("sales backend: decode response: %w", err)
	}
	return nil
}

func rejectionMessage(payload []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	if envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return envelope.Message
}
