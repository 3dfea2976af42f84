package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/platform/auth"
)

// Logger emits one structured line per request. Authenticated requests carry
// the reviewer's name so acknowledge and resolve calls line up with the audit
// trail. Probe endpoints log at debug to keep the serve log readable.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			switch {
			case err != nil:
				evt = logger.Error().Err(err)
			case req.URL.Path == "/health" || req.URL.Path == "/metrics":
				evt = logger.Debug()
			}

			// Auth middleware swaps the request when it attaches identity, so
			// the post-handler request is the one that carries the user.
			if user := auth.UserNameFromContext(c.Request().Context()); user != "" {
				evt = evt.Str("user", user)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
