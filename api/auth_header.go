package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const (
	bearerPrefix = "Bearer "
	userIDKey    = "userID"
)

// bearerToken returns the JWT carried by a "Bearer <token>" header value.
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(raw, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(raw[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// requireUser resolves the caller's identity and stores it on the context.
// With allowQuery set, a ?token= parameter stands in for a missing
// Authorization header, since EventSource cannot send headers.
func requireUser(auth Authenticator, allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			metrics := metricsFrom(c)
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" && allowQuery {
				if token := c.QueryParam("token"); token != "" {
					header = bearerPrefix + token
				}
			}

			start := time.Now()
			user, err := auth.UserIDFromAuthHeader(header)
			metrics.ObserveAuth(time.Since(start))
			if err != nil {
				metrics.Fail("auth", err)
				return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
			}
			c.Set(userIDKey, user)
			metrics.SetUser(user)
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
