package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"form-relay/internal/config"
)

func TestSecurityHeaders_AddsHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.POST("/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/proxy", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Result().Header.Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
	if v := rec.Result().Header.Get("X-Frame-Options"); v != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", v, "DENY")
	}
}

func TestSecurityHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())

	var gotConnection, gotProxyAuth string
	e.POST("/proxy", func(c echo.Context) error {
		gotConnection = c.Request().Header.Get("Connection")
		gotProxyAuth = c.Request().Header.Get("Proxy-Authorization")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/proxy", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotConnection != "" {
		t.Errorf("Connection header should be stripped, got %q", gotConnection)
	}
	if gotProxyAuth != "" {
		t.Errorf("Proxy-Authorization header should be stripped, got %q", gotProxyAuth)
	}
}

func TestCORS_AllowsAnyOriginByDefault(t *testing.T) {
	cfg := &config.Config{CORS: config.CORSConfig{AllowOrigins: []string{"*"}}}

	e := echo.New()
	e.Use(CORS(cfg))
	e.POST("/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodOptions, "/proxy", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://app.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestCORS_Disabled(t *testing.T) {
	disabled := false
	cfg := &config.Config{CORS: config.CORSConfig{Enabled: &disabled, AllowOrigins: []string{"*"}}}

	e := echo.New()
	e.Use(CORS(cfg))
	e.POST("/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/proxy", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://app.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", v)
	}
}

func TestStatusOf(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"http error", echo.NewHTTPError(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge},
		{"plain error uncommitted", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), httptest.NewRecorder())
			if got := statusOf(c, tt.err); got != tt.want {
				t.Errorf("statusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
