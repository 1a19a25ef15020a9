package generation

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a snapshot of how the gateway has been doing since start.
type Health struct {
	Status              string     `json:"status"`
	Mode                string     `json:"mode"`
	Endpoint            string     `json:"endpoint,omitempty"`
	Calls               uint64     `json:"calls"`
	Failures            uint64     `json:"failures"`
	ConsecutiveFailures uint64     `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastFailure         string     `json:"last_failure,omitempty"`
}

type healthRecorder struct {
	calls       atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64

	mu          sync.Mutex
	lastFailAt  time.Time
	lastFailMsg string
}

func (h *healthRecorder) recordSuccess() {
	h.calls.Add(1)
	h.consecutive.Store(0)
}

func (h *healthRecorder) recordFailure(err error) {
	h.calls.Add(1)
	h.failures.Add(1)
	h.consecutive.Add(1)

	h.mu.Lock()
	h.lastFailAt = time.Now().UTC()
	h.lastFailMsg = err.Error()
	h.mu.Unlock()
}

// Health reports "ok" unless the most recent live call failed, in which case
// it reports "degraded". Mock mode is always "ok".
func (g *Gateway) Health() Health {
	out := Health{
		Status:              "ok",
		Mode:                g.Mode(),
		Endpoint:            g.endpoint,
		Calls:               g.health.calls.Load(),
		Failures:            g.health.failures.Load(),
		ConsecutiveFailures: g.health.consecutive.Load(),
	}
	if out.ConsecutiveFailures > 0 {
		out.Status = "degraded"
	}

	g.health.mu.Lock()
	if !g.health.lastFailAt.IsZero() {
		at := g.health.lastFailAt
		out.LastFailureAt = &at
		out.LastFailure = g.health.lastFailMsg
	}
	g.health.mu.Unlock()
	return out
}

// HealthHandler serves GET /health/generation. It always answers 200 since
// a degraded generation service does not stop the API from working.
func (g *Gateway) HealthHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.Health())
	}
}
