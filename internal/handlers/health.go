package handlers

import (
	"net/http"
	"time"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// HealthHandlers serves liveness and readiness checks.
type HealthHandlers struct {
	startedAt time.Time
	clock     func() time.Time
	version   string
	breaker   func() string
	sessions  func() int
}

type HealthOption func(*HealthHandlers)

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func WithHealthStartedAt(t time.Time) HealthOption {
	return func(h *HealthHandlers) { h.startedAt = t }
}

func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) { h.version = version }
}

// WithHealthBreaker reports the order gateway circuit state. Readyz fails while it is open.
func WithHealthBreaker(state func() string) HealthOption {
	return func(h *HealthHandlers) { h.breaker = state }
}

func WithHealthSessions(count func() int) HealthOption {
	return func(h *HealthHandlers) { h.sessions = count }
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.clock()
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	if h.sessions != nil {
		payload["sessions"] = h.sessions()
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz reports whether orders can currently be submitted.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	if h.breaker != nil {
		state := h.breaker()
		checks["orderGateway"] = state
		if state == "open" {
			status = http.StatusServiceUnavailable
		}
	}
	label := "ok"
	if status != http.StatusOK {
		label = "degraded"
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status":    label,
		"checks":    checks,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}
