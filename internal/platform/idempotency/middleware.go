package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "X-Idempotent-Replay"
)

// Logger receives store failures that cannot be reported to the client.
type Logger interface {
	Printf(format string, args ...any)
}

type options struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger Logger
}

// Option customises the middleware.
type Option func(*options)

func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Middleware requires an idempotency key on the wrapped routes and replays the stored
// response when the same key and request arrive again. Keys are scoped to the wizard
// session recorded on the request context.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := options{header: DefaultHeader, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.header+" header", http.StatusBadRequest))
				return
			}
			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			scope := identity(ctx)
			scoped := digest([]byte(scope + "|" + key))
			fingerprint := fingerprintOf(r, body, scope)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				cfg.logf("idempotency: reserve %s: %v", scope, err)
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
				return
			}

			switch reservation.Outcome {
			case OutcomeReplay:
				replay(w, reservation.Entry)
				return
			case OutcomeInProgress:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			// Server errors are not cached so the client can retry with the same key.
			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logf("idempotency: release %s: %v", scope, err)
				}
			} else if err := store.Complete(ctx, scoped, fingerprint, Response{
				StatusCode: rec.status(),
				Header:     rec.header,
				Body:       rec.body.Bytes(),
			}, cfg.clock(), cfg.ttl); err != nil {
				cfg.logf("idempotency: complete %s: %v", scope, err)
				_ = store.Release(ctx, scoped)
			}
			rec.flush(w)
		})
	}
}

func (o options) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

func identity(ctx context.Context) string {
	if id := requestctx.Session(ctx); id != "" {
		return id
	}
	return "anonymous"
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprintOf(r *http.Request, body []byte, scope string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		scope,
		digest(body),
	}
	return digest([]byte(strings.Join(parts, "|")))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.code == 0 {
		r.code = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	if r.body.Len() > 0 {
		_, _ = w.Write(r.body.Bytes())
	}
}
