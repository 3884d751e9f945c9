package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/luis12duboqwe/inventario-sub008/internal/offline"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/httpx"
	"github.com/luis12duboqwe/inventario-sub008/internal/services"
)

// OfflineHandlers exposes the offline checkout queue for inspection, manual
// retry and purge.
type OfflineHandlers struct {
	register *services.RegisterService
	queue    *offline.Queue
}

// NewOfflineHandlers constructs handlers over the queue and the register service.
func NewOfflineHandlers(register *services.RegisterService, queue *offline.Queue) *OfflineHandlers {
	return &OfflineHandlers{register: register, queue: queue}
}

// Routes wires the /offline endpoints onto the provided router.
func (h *OfflineHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Post("/retry", h.retry)
	r.Delete("/", h.purgeAll)
	r.Delete("/{entryID}", h.purge)
}

func (h *OfflineHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.queue.List(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("queue_unavailable", "unable to read the offline queue", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"depth":   len(entries),
	})
}

func (h *OfflineHandlers) retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.register.RetryQueued(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("retry_failed", "unable to drain the offline queue", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *OfflineHandlers) purgeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.queue.PurgeAll(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("queue_unavailable", "unable to purge the offline queue", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OfflineHandlers) purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "entry id must be numeric", http.StatusBadRequest))
		return
	}

	if err := h.queue.Purge(ctx, id); err != nil {
		if errors.Is(err, offline.ErrEntryNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("entry_not_found", "queue entry not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("queue_unavailable", "unable to purge the queue entry", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
