package middleware

import (
	"strconv"
	"time"

	"flow_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/google/uuid"
)

const CodeRateLimited = "RATE_LIMITED"

// UserRateLimit limits requests per user within a fixed window. Requests without a user fall back to the client IP.
// max <= 0 disables the limiter.
func UserRateLimit(max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		KeyGenerator: rateLimitKey,
		LimitReached: func(c *fiber.Ctx) error {
			return response.Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", map[string]any{
				"retry_after": strconv.Itoa(int(window.Seconds())),
			})
		},
	})
}

func rateLimitKey(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(uuid.UUID); ok {
		return "user:" + userID.String()
	}
	return "ip:" + c.IP()
}
