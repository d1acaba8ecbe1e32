package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
)

const MessageTooManyRequests = "Too many requests, please try again later."

var ErrTooManyRequests = apperr.New(http.StatusTooManyRequests, MessageTooManyRequests)

type Store interface {
	middleware.RateLimiterStore
	ResetAfter(identifier string) time.Duration
}

func Middleware(store Store) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if d := store.ResetAfter(identifier); d > 0 {
				secs := int((d + time.Second - 1) / time.Second)
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			}
			return ErrTooManyRequests
		},
	})
}
