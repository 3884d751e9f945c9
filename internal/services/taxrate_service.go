package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/kvstore"
)

const (
	// DefaultTaxRate is the fallback fraction used until the backend has
	// taught the register an effective rate (16% IVA).
	DefaultTaxRate = 0.16

	taxRateStorageKey = "tax_rate"
)

var errTaxRateStoreRequired = errors.New("tax rate learner: store is required")

// TaxRateLearnerDeps wires the storage dependency for the learner.
type TaxRateLearnerDeps struct {
	Store  kvstore.Store
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// TaxRateLearner derives the effective tax rate from authoritative backend
// responses and persists it so local pricing stays accurate across sessions
// without a live connection. It is the only writer of the persisted rate.
type TaxRateLearner struct {
	store  kvstore.Store
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewTaxRateLearner constructs a learner enforcing dependency validation.
func NewTaxRateLearner(deps TaxRateLearnerDeps) (*TaxRateLearner, error) {
	if deps.Store == nil {
		return nil, errTaxRateStoreRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TaxRateLearner{store: deps.Store, logger: logger}, nil
}

// DeriveRate extracts an effective 0-1 tax fraction from backend totals.
// An explicit rate field wins; otherwise the rate is back-computed from
// tax / (subtotal - discount). The second return value is false when the
// response is ambiguous (zero or negative base, non-finite result); the
// learner leaves such cases unresolved rather than guessing.
func (l *TaxRateLearner) DeriveRate(totals domain.BackendTotals) (float64, bool) {
	if totals.Rate != nil {
		return normalizeRate(*totals.Rate)
	}

	base := totals.Subtotal - totals.Discount
	if base <= 0 {
		return 0, false
	}
	return normalizeRate(float64(totals.Tax) / float64(base))
}

// Ingest derives a rate from the response and persists it when resolvable.
func (l *TaxRateLearner) Ingest(ctx context.Context, totals domain.BackendTotals) {
	rate, ok := l.DeriveRate(totals)
	if !ok {
		return
	}
	if err := l.Persist(ctx, rate); err != nil {
		l.logger(ctx, "taxrate.persist_failed", map[string]any{"rate": rate, "error": err.Error()})
	}
}

// Persist writes the rate to durable storage under the fixed key.
func (l *TaxRateLearner) Persist(ctx context.Context, rate float64) error {
	normalized, ok := normalizeRate(rate)
	if !ok {
		return errors.New("tax rate learner: rate is not a usable fraction")
	}
	return l.store.Set(ctx, taxRateStorageKey, strconv.FormatFloat(normalized, 'f', -1, 64))
}

// Read returns the persisted rate, falling back to DefaultTaxRate when the
// slot is missing or unparsable. A storage failure also falls back: pricing
// must never block on the rate slot.
func (l *TaxRateLearner) Read(ctx context.Context) float64 {
	raw, err := l.store.Get(ctx, taxRateStorageKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrKeyNotFound) {
			l.logger(ctx, "taxrate.read_failed", map[string]any{"error": err.Error()})
		}
		return DefaultTaxRate
	}

	parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		l.logger(ctx, "taxrate.parse_failed", map[string]any{"raw": raw})
		return DefaultTaxRate
	}
	normalized, ok := normalizeRate(parsed)
	if !ok {
		return DefaultTaxRate
	}
	return normalized
}

// normalizeRate maps the two conventions the backend has been observed to
// use (fraction vs whole percentage) onto a 0-1 fraction. Values above 1 are
// treated as percentages and divided by 100.
func normalizeRate(rate float64) (float64, bool) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0, false
	}
	if rate > 1 {
		rate /= 100
	}
	if rate > 1 {
		return 0, false
	}
	return rate, true
}
