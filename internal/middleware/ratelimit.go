package middleware

import (
	"net/http"
	"time"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/dto"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// NewRateLimitStore spreads cfg.Requests over cfg.Window per client.
func NewRateLimitStore(cfg config.RateLimit) echomw.RateLimiterStore {
	return echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(cfg.Window / time.Duration(max(cfg.Requests, 1))),
		Burst:     cfg.Requests,
		ExpiresIn: cfg.ExpiresIn,
	})
}

// RateLimit guards the payment routes. Authenticated callers are keyed by
// user id, everyone else by IP.
func RateLimit(store echomw.RateLimiterStore) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id := UserID(c); id != "" {
				return "user:" + id, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, dto.ErrorResponse{
				Code:    "RATE_LIMIT_IDENTIFIER",
				Message: "unable to identify client",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Code:      "RATE_LIMITED",
				Message:   "too many payment requests, try again later",
				Retryable: true,
			})
		},
	})
}
