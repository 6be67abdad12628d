package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports dependency reachability
type HealthHandler struct {
	db       *gorm.DB
	redis    *redis.Client
	features fiber.Map
}

// NewHealthHandler creates a health handler. features lists optional
// integrations and whether they are configured.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, features fiber.Map) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, features: features}
}

// Health handles GET /health
// @Summary      Health check
// @Tags         System
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      503 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	status := "ok"
	checks := fiber.Map{"database": "ok", "redis": "ok"}

	if sqlDB, err := h.db.DB(); err != nil {
		checks["database"] = err.Error()
		status = "degraded"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		status = "degraded"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = "degraded"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"checks":   checks,
		"services": h.features,
	})
}
