package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"proxifier-go/internal/config"
)

// RateLimiter returns a per-IP rate limiter for the configured requests per
// second. Burst equals the rate, rounded up to at least one request.
func RateLimiter(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	burst := max(int(cfg.RequestsPerSecond), 1)
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(cfg.RequestsPerSecond),
		Burst: burst,
	})
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
