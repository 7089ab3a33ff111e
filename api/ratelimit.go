package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimitExpiry = 3 * time.Minute

// rateLimit throttles each authenticated user to perSecond requests with the
// given burst. It must run after requireUser.
func rateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: rateLimitExpiry,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			id := userID(c)
			if id == "" {
				return "", errMissingAuthorization
			}
			return id, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			metricsFrom(c).Fail("auth", err)
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			metricsFrom(c).Fail("rate_limit", err)
			return c.JSON(http.StatusTooManyRequests, messageResponse{Message: "Too many requests"})
		},
	})
}
