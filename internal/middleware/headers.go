package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"form-relay/internal/config"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from requests.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			res := c.Response()
			res.Before(func() {
				res.Header().Set("X-Content-Type-Options", "nosniff")
				res.Header().Set("X-Frame-Options", "DENY")
			})

			return next(c)
		}
	}
}

// CORS returns the cross-origin middleware for the relay route, or a
// pass-through when CORS is disabled.
func CORS(cfg *config.Config) echo.MiddlewareFunc {
	if !cfg.CORS.IsEnabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	})
}

// statusOf resolves the status a request ends with. When a handler returns
// an *echo.HTTPError the response has not been written yet.
func statusOf(c echo.Context, err error) int {
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		if !c.Response().Committed {
			return http.StatusInternalServerError
		}
	}
	return c.Response().Status
}
