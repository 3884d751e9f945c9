package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/luis12duboqwe/inventario-sub008/internal/domain"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/kvstore"
)

const queueStorageKey = "offline_queue"

var (
	errQueueStoreRequired = errors.New("offline queue: store is required")

	// ErrEntryNotFound indicates the referenced queue entry does not exist.
	ErrEntryNotFound = errors.New("offline queue: entry not found")
)

// QueueDeps wires the storage and clock dependencies for the queue.
type QueueDeps struct {
	Store  kvstore.Store
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Queue is the durable buffer for checkouts captured while the sales backend
// was unreachable. Entries live as one JSON array in storage and survive
// restarts; within one process all access is serialised through the store's
// read-modify-write cycle.
type Queue struct {
	store  kvstore.Store
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// RetryReport summarises one drain pass over the queue.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Rejected  int `json:"rejected"`
	Remaining int `json:"remaining"`
}

// NewQueue constructs a Queue enforcing dependency validation.
func NewQueue(deps QueueDeps) (*Queue, error) {
	if deps.Store == nil {
		return nil, errQueueStoreRequired
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Queue{store: deps.Store, now: now, logger: logger}, nil
}

// Enqueue appends a captured checkout to the durable queue. The entry id is
// the capture timestamp in unix milliseconds, bumped on collision so ids stay
// unique and ordered.
func (q *Queue) Enqueue(ctx context.Context, payload domain.CheckoutPayload) (domain.QueueEntry, error) {
	entries, err := q.load(ctx)
	if err != nil {
		return domain.QueueEntry{}, err
	}

	id := q.now().UTC().UnixMilli()
	if n := len(entries); n > 0 && entries[n-1].ID >= id {
		id = entries[n-1].ID + 1
	}
	entry := domain.QueueEntry{ID: id, Payload: payload}
	entries = append(entries, entry)

	if err := q.save(ctx, entries); err != nil {
		return domain.QueueEntry{}, err
	}
	q.logger(ctx, "offline.enqueued", map[string]any{"entry_id": entry.ID, "depth": len(entries)})
	return entry, nil
}

// List returns the queued entries in capture order.
func (q *Queue) List(ctx context.Context) ([]domain.QueueEntry, error) {
	return q.load(ctx)
}

// Depth returns the number of queued entries.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RetryAll drains the queue in capture order through submit. A delivered
// entry is removed and persisted immediately so a crash mid-drain never
// replays it. When retryable classifies an error as transient the drain stops
// with the entry still queued; any other error leaves the entry queued as
// rejected and moves on, so one poisoned payload cannot block the rest.
func (q *Queue) RetryAll(
	ctx context.Context,
	submit func(ctx context.Context, payload domain.CheckoutPayload) error,
	retryable func(error) bool,
) (RetryReport, error) {
	if submit == nil {
		return RetryReport{}, errors.New("offline queue: submit function is required")
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}

	entries, err := q.load(ctx)
	if err != nil {
		return RetryReport{}, err
	}

	report := RetryReport{}
	remaining := make([]domain.QueueEntry, 0, len(entries))
	for i, entry := range entries {
		report.Attempted++
		if err := submit(ctx, entry.Payload); err != nil {
			if retryable(err) {
				q.logger(ctx, "offline.retry_paused", map[string]any{"entry_id": entry.ID, "error": err.Error()})
				remaining = append(remaining, entries[i:]...)
				break
			}
			report.Rejected++
			q.logger(ctx, "offline.retry_rejected", map[string]any{"entry_id": entry.ID, "error": err.Error()})
			remaining = append(remaining, entry)
			continue
		}

		report.Delivered++
		persisted := append(append([]domain.QueueEntry{}, remaining...), entries[i+1:]...)
		if err := q.save(ctx, persisted); err != nil {
			return report, fmt.Errorf("offline queue: persist after delivery: %w", err)
		}
	}

	if err := q.save(ctx, remaining); err != nil {
		return report, err
	}
	report.Remaining = len(remaining)
	return report, nil
}

// Purge removes one entry by id.
func (q *Queue) Purge(ctx context.Context, id int64) error {
	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	filtered := entries[:0]
	found := false
	for _, entry := range entries {
		if entry.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, entry)
	}
	if !found {
		return ErrEntryNotFound
	}
	return q.save(ctx, filtered)
}

// PurgeAll discards every queued entry.
func (q *Queue) PurgeAll(ctx context.Context) error {
	return q.store.Delete(ctx, queueStorageKey)
}

func (q *Queue) load(ctx context.Context) ([]domain.QueueEntry, error) {
	raw, err := q.store.Get(ctx, queueStorageKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("offline queue: load: %w", err)
	}

	var entries []domain.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("offline queue: decode: %w", err)
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []domain.QueueEntry) error {
	if len(entries) == 0 {
		return q.store.Delete(ctx, queueStorageKey)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("offline queue: encode: %w", err)
	}
	return q.store.Set(ctx, queueStorageKey, string(data))
}
