package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// RegisterHealthRoutes mounts the host ping and the liveness/readiness
// probes. rdb may be nil when the service runs without Redis.
func RegisterHealthRoutes(app fiber.Router, rdb *redis.Client) {
	// The functions host polls "/" to learn the custom handler is up.
	app.Get("/", PingHandler())
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(rdb))
}

func PingHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		redisStatus := "disabled"
		var redisErr error
		if rdb != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
			defer cancel()

			redisErr = rdb.Ping(ctx).Err()
			redisStatus = "ok"
			if redisErr != nil {
				redisStatus = "down"
			}
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if redisErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"redis": redisStatus,
			},
		})
	}
}
