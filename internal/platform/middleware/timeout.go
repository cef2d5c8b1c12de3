package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context. The handler runs
// on the calling goroutine and owns the response: blocking calls observe
// the cancelled context and return. A 504 is written only when the
// handler gave up on the deadline without committing a response. Paths
// starting with any of skipPrefixes, such as the long-lived relay socket,
// get no deadline.
func RequestTimeout(timeout time.Duration, skipPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range skipPrefixes {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed {
				return err
			}
			if errors.Is(err, context.DeadlineExceeded) ||
				(err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
				return gatewayTimeout(c)
			}
			return err
		}
	}
}

func gatewayTimeout(c echo.Context) error {
	return c.JSON(http.StatusGatewayTimeout, map[string]string{
		"error": "request processing exceeded the allowed time limit",
	})
}
