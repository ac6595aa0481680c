package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck probes a dependency.
type ReadinessCheck func(ctx context.Context) error

// HealthOption customises a HealthHandler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck adds a named dependency probe to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandler) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// HealthHandler exposes liveness and readiness.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]ReadinessCheck
	now       func() time.Time
}

func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]ReadinessCheck), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.now().UTC()
	return h
}

// Status answers the liveness probe.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
		Timestamp: h.now().UTC(),
	})
}

// Readiness runs every registered dependency check. Any failure yields 503.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = "unavailable"
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	resp.Timestamp = h.now().UTC()

	c.JSON(status, resp)
}
