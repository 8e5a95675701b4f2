package http

import (
	"context"
	"time"

	"flow_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is anything the readiness check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes a circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

type HealthHandler struct {
	db       *sqlx.DB
	cache    Pinger
	breaker  BreakerReporter
	gatherer prometheus.Gatherer
}

func NewHealthHandler(db *sqlx.DB, cache Pinger, breaker BreakerReporter, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, breaker: breaker, gatherer: gatherer}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready checks Postgres and the score cache. A degraded pool is reported but still ready.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]interface{})
	allHealthy := true

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			stats := metrics.GetDBPoolStats(h.db.DB)
			pool := metrics.AssessDBPoolHealth(stats)
			checks["postgres"] = fiber.Map{"status": pool.Status, "pool": stats, "utilization": pool.Utilization}
			if pool.Status == metrics.PoolUnhealthy {
				allHealthy = false
			}
		}
	} else {
		checks["postgres"] = "not configured"
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			// 캐시 장애는 점수 재계산으로 대체되므로 ready 유지
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "in-memory"
	}
	if h.breaker != nil {
		checks["cache_breaker"] = h.breaker.BreakerState()
	}

	status, code := "ready", fiber.StatusOK
	if !allHealthy {
		status, code = "not ready", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
