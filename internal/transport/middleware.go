package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"go.uber.org/zap"
)

const requestIDLocalsKey = "requestid"

// maxBodyBytes bounds IPN and membership-check payloads. PayPal IPN bodies
// are a few KB at most.
const maxBodyBytes = 64 * 1024

// NewApp builds the fiber app with the shared error handler and the
// request-id, correlation and panic-recovery middleware installed.
func NewApp(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "membership-functions",
		BodyLimit:             maxBodyBytes,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(RequestID())
	app.Use(Correlation())
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
	}

	return app
}

// RequestID reuses an inbound X-Request-ID or generates a UUID.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: requestIDLocalsKey,
	})
}

// Correlation copies the request id into the user context so service logs
// carry it.
func Correlation() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := RequestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

func RequestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals(requestIDLocalsKey).(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
