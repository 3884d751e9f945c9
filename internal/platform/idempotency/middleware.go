package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luis12duboqwe/inventario-sub008/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      clockFunc
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a request repeats an
// idempotency key it has already completed, and rejects concurrent use of the
// same key. Requests without the header pass through untouched; the console
// only sets it on checkout retries.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := Fingerprint(r, body)
			now := cfg.clock()

			reservation, err := store.Reserve(r.Context(), key, fingerprint, now, cfg.ttl)
			if err != nil {
				if err == ErrFingerprintMismatch {
					httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
					return
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_unavailable", "unable to reserve idempotency key", http.StatusInternalServerError))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				w.Header().Set(replayHeaderName, "true")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(reservation.Record.ResponseStatus)
				_, _ = w.Write(reservation.Record.ResponseBody)
				return
			case ReservationStatePending:
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is already in flight", http.StatusConflict))
				return
			}

			recorder := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.status >= http.StatusInternalServerError {
				_ = store.Release(r.Context(), key, fingerprint)
				return
			}
			_ = store.SaveResponse(r.Context(), key, fingerprint, Response{
				Status: recorder.status,
				Body:   recorder.body.Bytes(),
			}, cfg.clock(), cfg.ttl)
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
