package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yourusername/gearmarket/services"
)

// DBPing checks the database connection before proceeding and answers 503
// while it is down. The pool redials on its own once the database is back.
func DBPing(ping func(ctx context.Context) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			services.Log.WithError(err).Error("database ping failed")
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Database connection is down",
			})
		}
		return c.Next()
	}
}
